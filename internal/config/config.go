package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/reviewdesk/backend/pkg/crypto"
	"github.com/reviewdesk/backend/pkg/payment"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port          int
	JWTSecret     string
	DatabaseURL   string
	EncryptionKey string
	CORSOrigins   []string
	LogLevel      string
	LogFormat     string

	PublicBaseURL string
	SuccessURL    string
	FailURL       string
	RefundWindow  time.Duration

	Gateway GatewayConfig
}

// GatewayConfig is the raw gateway section. It may be incomplete; the
// server then runs with checkout disabled.
type GatewayConfig struct {
	Provider      string
	Env           string
	SandboxURL    string
	ProductionURL string
	OrderPath     string
	Identifier    string
	ReceiverID    string
	IntegratorID  string
	PublicKeyPEM  string
	PrivateKeyPEM string
	// Paddings is the RSA padding order tried for outbound orders.
	Paddings []crypto.Padding
	Timeout  time.Duration
}

// BaseURL returns the endpoint for the selected environment.
func (g GatewayConfig) BaseURL() string {
	if g.Env == "production" {
		return g.ProductionURL
	}
	return g.SandboxURL
}

// Client builds the payment client configuration. It fails with
// payment.ErrConfiguration when required values are missing and with a
// parse error when a key is present but unusable.
func (g GatewayConfig) Client() (payment.Config, error) {
	cfg := payment.Config{
		Provider:     g.Provider,
		BaseURL:      g.BaseURL(),
		OrderPath:    g.OrderPath,
		Identifier:   g.Identifier,
		ReceiverID:   g.ReceiverID,
		IntegratorID: g.IntegratorID,
		Paddings:     g.Paddings,
		Timeout:      g.Timeout,
	}
	if g.PublicKeyPEM != "" {
		pub, err := crypto.ParsePublicKey([]byte(g.PublicKeyPEM))
		if err != nil {
			return cfg, fmt.Errorf("GATEWAY_PUBLIC_KEY: %w", err)
		}
		cfg.PeerKey = pub
	}
	if g.PrivateKeyPEM != "" {
		priv, err := crypto.ParsePrivateKey([]byte(g.PrivateKeyPEM))
		if err != nil {
			return cfg, fmt.Errorf("GATEWAY_PRIVATE_KEY: %w", err)
		}
		cfg.PrivateKey = priv
	}
	return cfg, cfg.Validate()
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnv("PORT", "4001"))
	if err != nil {
		return nil, fmt.Errorf("PORT must be a number: %w", err)
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	encKey := getEnv("ENCRYPTION_KEY", "")
	if encKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required (must be exactly 32 bytes)")
	}
	if len(encKey) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(encKey))
	}

	refundDays, err := strconv.Atoi(getEnv("REFUND_WINDOW_DAYS", "14"))
	if err != nil || refundDays < 0 {
		return nil, fmt.Errorf("REFUND_WINDOW_DAYS must be a non-negative number")
	}

	timeout, err := time.ParseDuration(getEnv("GATEWAY_TIMEOUT", "20s"))
	if err != nil {
		return nil, fmt.Errorf("GATEWAY_TIMEOUT: %w", err)
	}

	gatewayEnv := strings.ToLower(getEnv("GATEWAY_ENV", "sandbox"))
	if gatewayEnv != "sandbox" && gatewayEnv != "production" {
		return nil, fmt.Errorf("GATEWAY_ENV must be sandbox or production, got %q", gatewayEnv)
	}

	paddings, err := parsePaddings(getEnv("GATEWAY_PADDINGS", "pkcs1,oaep"))
	if err != nil {
		return nil, err
	}

	publicKey, err := getEnvOrFile("GATEWAY_PUBLIC_KEY")
	if err != nil {
		return nil, err
	}
	privateKey, err := getEnvOrFile("GATEWAY_PRIVATE_KEY")
	if err != nil {
		return nil, err
	}

	origins := strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	return &Config{
		Port:          port,
		JWTSecret:     jwtSecret,
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		EncryptionKey: encKey,
		CORSOrigins:   origins,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", fmt.Sprintf("http://localhost:%d", port)), "/"),
		SuccessURL:    getEnv("CHECKOUT_SUCCESS_URL", ""),
		FailURL:       getEnv("CHECKOUT_FAIL_URL", ""),
		RefundWindow:  time.Duration(refundDays) * 24 * time.Hour,
		Gateway: GatewayConfig{
			Provider:      getEnv("GATEWAY_PROVIDER", "envelope"),
			Env:           gatewayEnv,
			SandboxURL:    getEnv("GATEWAY_SANDBOX_URL", ""),
			ProductionURL: getEnv("GATEWAY_PRODUCTION_URL", ""),
			OrderPath:     getEnv("GATEWAY_ORDER_PATH", "/api/v1/orders"),
			Identifier:    getEnv("GATEWAY_IDENTIFIER", ""),
			ReceiverID:    getEnv("GATEWAY_RECEIVER_ID", ""),
			IntegratorID:  getEnv("GATEWAY_INTEGRATOR_ID", ""),
			PublicKeyPEM:  publicKey,
			PrivateKeyPEM: privateKey,
			Paddings:      paddings,
			Timeout:       timeout,
		},
	}, nil
}

// WebhookURL is where the gateway delivers callbacks.
func (c *Config) WebhookURL() string {
	return c.PublicBaseURL + "/api/payment/webhook"
}

// parsePaddings reads a comma separated padding order. At most two distinct
// paddings are allowed, which caps an order exchange at two attempts.
func parsePaddings(v string) ([]crypto.Padding, error) {
	var out []crypto.Padding
	for _, part := range strings.Split(v, ",") {
		p, err := crypto.ParsePadding(part)
		if err != nil {
			return nil, fmt.Errorf("GATEWAY_PADDINGS: %w", err)
		}
		for _, seen := range out {
			if seen == p {
				return nil, fmt.Errorf("GATEWAY_PADDINGS: %s listed twice", p)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvOrFile reads key, or the file named by key_FILE. Literal "\n"
// sequences are expanded so PEM blocks fit on one line.
func getEnvOrFile(key string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return strings.ReplaceAll(v, `\n`, "\n"), nil
	}
	path := os.Getenv(key + "_FILE")
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%s_FILE: %w", key, err)
	}
	return string(b), nil
}
