package config

import "net/url"

// Redacted returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". The HTTP config endpoint and startup logging
// only ever see this copy.
func Redacted(cfg *Config) Config {
	out := *cfg

	redact(&out.Executor.APIKey)
	redact(&out.Executor.APISecret)
	redact(&out.Executor.SecretPassword)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// RPC URLs often embed provider keys in the path.
	redactURL(&out.Solana.RPCURL)
	redactURL(&out.EVM.RPCURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Tokens = append(out.Tokens[:0:0], cfg.Tokens...)
	out.Venues.Enabled = append([]string(nil), cfg.Venues.Enabled...)
	out.Session.EnabledStrategies = append([]string(nil), cfg.Session.EnabledStrategies...)
	out.Risk.Blacklist = append([]string(nil), cfg.Risk.Blacklist...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)

	return out
}

// redact replaces a non-empty string with "***".
func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}

// redactURL keeps the scheme and host and hides the rest.
func redactURL(s *string) {
	if *s == "" {
		return
	}
	u, err := url.Parse(*s)
	if err != nil || u.Host == "" {
		*s = "***"
		return
	}
	if u.Path == "" && u.RawQuery == "" && u.User == nil {
		return
	}
	*s = u.Scheme + "://" + u.Host + "/***"
}
