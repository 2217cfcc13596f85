package config

import "os"

// PayU holds the gateway integration settings. They are loaded once at
// startup and passed down explicitly so the signature and checkout code can
// be exercised with fixture credentials in tests.
type PayU struct {
	APIKey     string
	MerchantID string
	AccountID  string
	// SecretKey is only used when SignatureAlg is "hmac-sha256". When empty
	// the APIKey doubles as the secret, which is what the gateway sandbox
	// expects.
	SecretKey string
	// SignatureAlg selects between "md5" and "hmac-sha256". The live
	// integration used md5; see DESIGN.md before flipping this.
	SignatureAlg    string
	CheckoutURL     string
	Test            bool
	Currency        string
	ReferencePrefix string
	ResponseURL     string
	ConfirmationURL string
}

type Config struct {
	Addr      string
	JWTSecret string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisHost     string
	RedisPort     string
	RedisPassword string

	KafkaBroker string
	KafkaTopic  string

	PayU PayU
}

func Load() Config {
	return Config{
		Addr:      getEnv("ADDR", ":8083"),
		JWTSecret: getEnv("JWT_SECRET", "your-secret-key-change-in-production"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "motoshopdb"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		KafkaBroker: getEnv("KAFKA_BROKER", "localhost:9092"),
		KafkaTopic:  getEnv("KAFKA_TOPIC", "payment_events"),

		PayU: PayU{
			APIKey:          getEnv("PAYU_API_KEY", "4Vj8eK4rloUd272L48hsrarnUA"),
			MerchantID:      getEnv("PAYU_MERCHANT_ID", "508029"),
			AccountID:       getEnv("PAYU_ACCOUNT_ID", "512321"),
			SecretKey:       getEnv("PAYU_SECRET_KEY", ""),
			SignatureAlg:    getEnv("PAYU_SIGNATURE_ALG", "md5"),
			CheckoutURL:     getEnv("PAYU_CHECKOUT_URL", "https://sandbox.checkout.payulatam.com/ppp-web-gateway-payu/"),
			Test:            getEnv("PAYU_TEST", "1") == "1",
			Currency:        getEnv("PAYU_CURRENCY", "COP"),
			ReferencePrefix: getEnv("PAYU_REFERENCE_PREFIX", "MOTO"),
			ResponseURL:     getEnv("PAYU_RESPONSE_URL", "http://localhost:8083/payment/response/"),
			ConfirmationURL: getEnv("PAYU_CONFIRMATION_URL", "http://localhost:8083/payment/confirmation/"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
