// Package log builds the slog loggers used by imgref.
//
// Every logger returned here wraps its output handler in a RedactingHandler.
// Resolved image URLs, storage credentials and database DSNs all pass
// through log attributes, and some of them carry secrets:
//
//   - signed object-storage URLs hold a "token" query parameter
//   - presigned S3 URLs hold X-Amz-Signature and X-Amz-Credential
//   - Postgres DSNs hold a password in the userinfo part
//   - access keys and secret keys are logged by key name during setup
//
// URLs keep their host and path so that logs stay useful. Only the secret
// parts are replaced with MaskValue.
//
//	logger := log.NewLogger(os.Stderr, verbose)
//	logger.Debug("probing image", "url", ref.URL)
package log
