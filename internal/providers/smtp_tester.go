package providers

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"

	"cashflow-suite/settings/internal/constants"
)

// SMTPTester connects, upgrades to TLS when offered and authenticates. No
// message is sent.
type SMTPTester struct {
	// RequireTLS fails servers that offer neither implicit TLS nor STARTTLS.
	RequireTLS bool
	// TLSConfig overrides the client TLS settings, mainly for tests.
	TLSConfig *tls.Config
}

func (t *SMTPTester) Test(ctx context.Context, values map[string]string) error {
	if err := requireValues(values, "smtp_host", "smtp_port", "smtp_username", "smtp_password", "from_address"); err != nil {
		return err
	}
	host := strings.TrimSpace(values["smtp_host"])
	port, err := strconv.Atoi(strings.TrimSpace(values["smtp_port"]))
	if err != nil || port <= 0 || port > 65535 {
		return newProviderError(constants.ErrCodeInvalidField, "smtp_port must be a port number", nil)
	}
	if _, err := mail.ParseAddress(values["from_address"]); err != nil {
		return newProviderError(constants.ErrCodeInvalidField, "from_address is not a valid address", nil)
	}

	tlsConfig := &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	if t.TLSConfig != nil {
		tlsConfig = t.TLSConfig.Clone()
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var conn net.Conn
	if port == 465 {
		dialer := &tls.Dialer{Config: tlsConfig}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return networkError(ctx, err)
	}
	// The SMTP client has no context support; the deadline bounds every exchange.
	_ = conn.SetDeadline(deadlineOr(ctx, constants.DefaultTestTimeout))

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return mapSMTPError(ctx, err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return mapSMTPError(ctx, err)
	}

	if _, isTLS := client.TLSConnectionState(); !isTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return mapSMTPError(ctx, err)
			}
		} else if t.RequireTLS {
			return newProviderError(constants.ErrCodeAccessDenied, "server does not offer TLS", nil)
		}
	}

	if ok, _ := client.Extension("AUTH"); !ok {
		return newProviderError(constants.ErrCodeUnexpectedResponse, "server does not offer authentication", nil)
	}
	if err := client.Auth(smtp.PlainAuth("", values["smtp_username"], values["smtp_password"], host)); err != nil {
		return mapSMTPError(ctx, err)
	}

	_ = client.Quit()
	return nil
}

func mapSMTPError(ctx context.Context, err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		details := strconv.Itoa(tpErr.Code) + " " + tpErr.Msg
		switch {
		case tpErr.Code == 535 || tpErr.Code == 534:
			return newProviderError(constants.ErrCodeInvalidCredentials, details, nil)
		case tpErr.Code == 421 || tpErr.Code == 454:
			return newProviderError(constants.ErrCodeProviderRateLimit, details, nil)
		default:
			return newProviderError(constants.ErrCodeUnexpectedResponse, details, nil)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newProviderError(constants.ErrCodeProviderTimeout, "", err)
	}
	if strings.Contains(err.Error(), "unencrypted connection") {
		return newProviderError(constants.ErrCodeAccessDenied, "server refuses TLS; credentials were not sent", nil)
	}
	return networkError(ctx, err)
}
