package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// SubmissionKey is the Locals key holding the validated *SubmissionRequest.
const SubmissionKey = "submission"

const (
	maxPriority = 1000
	minPriority = -1000
)

var controlPattern = regexp.MustCompile(`[\x00-\x1f\x7f]`)

type Config struct {
	MaxDomainLength     int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// SubmissionRequest is the body accepted by POST /api/v1/submissions. Either
// domain or url names the target; domain wins when both are present.
type SubmissionRequest struct {
	Domain   string `json:"domain"`
	URL      string `json:"url"`
	Priority int    `json:"priority"`
	Source   string `json:"source"`
}

// Target returns the raw target the caller asked to crawl.
func (r *SubmissionRequest) Target() string {
	if r.Domain != "" {
		return r.Domain
	}
	return r.URL
}

// Middleware checks the content type of write requests and validates
// submission bodies before they reach the handler.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxDomainLength == 0 {
		cfg.MaxDomainLength = 2048
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		allowed := false
		for _, allowedType := range cfg.AllowedContentTypes {
			if strings.Contains(contentType, allowedType) {
				allowed = true
				break
			}
		}
		if !allowed {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		if !strings.HasSuffix(c.Path(), "/submissions") {
			return c.Next()
		}

		var req SubmissionRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		req.Domain = sanitizeString(req.Domain)
		req.URL = sanitizeString(req.URL)
		req.Source = sanitizeString(req.Source)

		target := req.Target()
		if target == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "domain or url is required",
			})
		}

		if len(target) > cfg.MaxDomainLength {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Domain exceeds maximum length",
			})
		}

		if controlPattern.MatchString(target) {
			cfg.Logger.Warn("Submission with control characters rejected",
				zap.String("ip", c.IP()),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid domain content",
			})
		}

		if req.Priority < minPriority || req.Priority > maxPriority {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "priority must be between -1000 and 1000",
			})
		}

		if len(req.Source) > 64 {
			req.Source = req.Source[:64]
		}

		c.Locals(SubmissionKey, &req)
		return c.Next()
	}
}

func sanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}
