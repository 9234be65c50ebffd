package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// BonusTier grants BonusPercent extra on topups of at least MinAmount minor units.
type BonusTier struct {
	MinAmount    int64
	BonusPercent int
}

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken string
	MySQLDSN string

	RedeemURL     string
	RedeemOrigin  string
	RedeemTimeout time.Duration

	MemoMarker      string
	MemoMinIDDigits int
	MinTopupAmount  int64
	BonusTiers      []BonusTier
	TopupSource     string

	TrialGiftAmount int64

	AbuseThreshold  int
	AbuseWindow     time.Duration
	TempBanDuration time.Duration

	PaymentQRBaseURL string
	PaymentAccount   string
	PaymentBank      string

	WebhookListenAddr string
	AdminUsername     string
	AdminPassword     string
	SupportContact    string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3UsePathStyle  bool
	S3ArchivePrefix string
}

// ArchiveEnabled reports whether raw payment payloads should be copied to object storage.
func (c Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		RedeemURL:         getEnv("REDEEM_URL", "https://shopee.vn/api/v2/voucher_wallet/save_vouchers"),
		RedeemOrigin:      getEnv("REDEEM_ORIGIN", "https://shopee.vn"),
		RedeemTimeout:     time.Second * time.Duration(getInt("REDEEM_TIMEOUT_SECONDS", 15)),
		MemoMarker:        getEnv("TOPUP_MEMO_MARKER", "NAP"),
		MemoMinIDDigits:   getInt("TOPUP_MEMO_MIN_ID_DIGITS", 6),
		MinTopupAmount:    getInt64("MIN_TOPUP_AMOUNT", 10000),
		TopupSource:       getEnv("TOPUP_SOURCE", "SEPAY"),
		TrialGiftAmount:   getInt64("TRIAL_GIFT_AMOUNT", 5000),
		AbuseThreshold:    getInt("ABUSE_THRESHOLD", 15),
		AbuseWindow:       time.Second * time.Duration(getInt("ABUSE_WINDOW_SECONDS", 60)),
		TempBanDuration:   time.Second * time.Duration(getInt("TEMP_BAN_SECONDS", 3600)),
		PaymentQRBaseURL:  getEnv("PAYMENT_QR_BASE_URL", "https://qr.sepay.vn/img"),
		PaymentAccount:    os.Getenv("PAYMENT_ACCOUNT"),
		PaymentBank:       os.Getenv("PAYMENT_BANK"),
		WebhookListenAddr: getEnv("WEBHOOK_LISTEN_ADDR", ":8080"),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:     getEnv("ADMIN_PASSWORD", "change-me"),
		SupportContact:    getEnv("SUPPORT_CONTACT", ""),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3Region:          os.Getenv("S3_REGION"),
		S3AccessKey:       os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("S3_SECRET_KEY"),
		S3Bucket:          os.Getenv("S3_BUCKET"),
		S3UsePathStyle:    getBool("S3_USE_PATH_STYLE", false),
		S3ArchivePrefix:   getEnv("S3_ARCHIVE_PREFIX", "payments"),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")

	tiers, err := ParseBonusTiers(getEnv("TOPUP_BONUS_TIERS", "100000:20,50000:15,20000:10"))
	if err != nil {
		return Config{}, fmt.Errorf("parse TOPUP_BONUS_TIERS: %w", err)
	}
	cfg.BonusTiers = tiers

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.PaymentAccount == "" {
		missing = append(missing, "PAYMENT_ACCOUNT")
	}
	if cfg.PaymentBank == "" {
		missing = append(missing, "PAYMENT_BANK")
	}
	if cfg.ArchiveEnabled() {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// ParseBonusTiers parses a "minAmount:percent,minAmount:percent" list and
// returns the tiers sorted by MinAmount descending, the order the intake
// service evaluates them in.
func ParseBonusTiers(raw string) ([]BonusTier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var tiers []BonusTier
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed tier %q", part)
		}
		minAmount, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("tier amount %q: %w", fields[0], err)
		}
		percent, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("tier percent %q: %w", fields[1], err)
		}
		if minAmount <= 0 || percent < 0 {
			return nil, fmt.Errorf("invalid tier %q", part)
		}
		tiers = append(tiers, BonusTier{MinAmount: minAmount, BonusPercent: percent})
	}

	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].MinAmount > tiers[j].MinAmount
	})
	return tiers, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// No env file is fine; the environment itself may carry everything.
	return nil
}
