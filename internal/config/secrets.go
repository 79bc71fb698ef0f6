package config

const redacted = "***"

// RedactedConfig copies cfg with every credential masked, for logging. The
// copy shares no slices with cfg.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	for _, secret := range []*string{
		&out.Postgres.DSN,
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Server.APIKey,
		&out.Notify.TelegramToken,
		&out.Notify.DiscordWebhookURL,
	} {
		if *secret != "" {
			*secret = redacted
		}
	}

	out.Notify.Events = clone(cfg.Notify.Events)
	out.Server.CORSOrigins = clone(cfg.Server.CORSOrigins)
	out.Ledger.Genesis = clone(cfg.Ledger.Genesis)
	return out
}

func clone[T any](in []T) []T {
	if in == nil {
		return nil
	}
	return append([]T(nil), in...)
}
