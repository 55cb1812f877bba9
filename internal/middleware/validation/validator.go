package validation

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/pkg/logger"
)

// MessageKey holds the sanitized query message in fiber locals.
const MessageKey = "sanitized_message"

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxMessageLength    int
	MaxDocumentSize     int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware checks request shape only. An empty query message is valid.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxMessageLength == 0 {
		cfg.MaxMessageLength = 5000
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	return func(c *fiber.Ctx) error {
		method := c.Method()
		if method != fiber.MethodPost && method != fiber.MethodPut {
			return c.Next()
		}

		if contentType := c.Get(fiber.HeaderContentType); contentType != "" && len(c.Body()) > 0 {
			allowed := false
			for _, t := range cfg.AllowedContentTypes {
				if strings.Contains(contentType, t) {
					allowed = true
					break
				}
			}
			if !allowed {
				return reject(c, fiber.StatusUnsupportedMediaType, "Unsupported content type")
			}
		}

		switch c.Path() {
		case "/api/v1/query":
			return validateQuery(c, cfg)
		case "/api/v1/documents":
			return validateDocument(c, cfg)
		}
		return c.Next()
	}
}

func validateQuery(c *fiber.Ctx, cfg Config) error {
	var req map[string]any
	if err := c.BodyParser(&req); err != nil {
		return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
	}

	message := ""
	if raw, ok := req["message"]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return reject(c, fiber.StatusBadRequest, "message must be a string")
		}
		message = s
	}
	for _, field := range []string{"sessionId", "userId"} {
		if raw, ok := req[field]; ok && raw != nil {
			if _, ok := raw.(string); !ok {
				return reject(c, fiber.StatusBadRequest, field+" must be a string")
			}
		}
	}

	if utf8.RuneCountInString(message) > cfg.MaxMessageLength {
		return reject(c, fiber.StatusBadRequest, "Message exceeds maximum length")
	}

	if xssPattern.MatchString(message) {
		cfg.Logger.Warn("Potential XSS attempt",
			zap.String("ip", c.IP()),
			zap.Int("message_length", len(message)),
		)
		return reject(c, fiber.StatusBadRequest, "Invalid message content")
	}

	c.Locals(MessageKey, Sanitize(message))
	return c.Next()
}

func validateDocument(c *fiber.Ctx, cfg Config) error {
	var req map[string]any
	if err := c.BodyParser(&req); err != nil {
		return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
	}

	if raw, ok := req["source_url"].(string); ok && raw != "" && !isValidURL(raw) {
		return reject(c, fiber.StatusBadRequest, "Invalid URL format")
	}

	html, _ := req["html_content"].(string)
	text, _ := req["text"].(string)
	if html == "" && text == "" {
		return reject(c, fiber.StatusBadRequest, "html_content or text is required")
	}
	if len(html)+len(text) > cfg.MaxDocumentSize {
		return reject(c, fiber.StatusRequestEntityTooLarge, "Document content exceeds maximum size")
	}

	return c.Next()
}

// Sanitize trims surrounding whitespace and strips NUL bytes.
func Sanitize(input string) string {
	input = strings.TrimSpace(input)
	return strings.ReplaceAll(input, "\x00", "")
}

func reject(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}

func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}
