package channels

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/miradorstack/latencyguard/internal/config"
	"github.com/miradorstack/latencyguard/internal/dispatch"
)

// Set is the list of channels built from configuration plus the resources they hold.
type Set struct {
	Channels []dispatch.Channel
	closers  []io.Closer
}

// Close releases broker connections held by the channels.
func (s *Set) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build constructs every configured channel. A channel that cannot be constructed (for
// example an unreachable NATS server) is logged and left out; delivery continues through
// the others.
func Build(cfgs []config.ChannelConfig, console io.Writer, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}
	set := &Set{}
	for i, c := range cfgs {
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", c.Type, i)
		}
		switch c.Type {
		case config.ChannelWebhook:
			set.Channels = append(set.Channels, NewWebhook(name, c.URL, c.MaxBytes, c.Timeout))
		case config.ChannelEmail:
			set.Channels = append(set.Channels, NewEmail(name, EmailConfig{
				Host:     c.SMTPHost,
				Port:     c.SMTPPort,
				Username: c.Username,
				Password: c.Password,
				From:     c.From,
				To:       c.To,
				TLS:      c.TLS,
			}))
		case config.ChannelConsole:
			set.Channels = append(set.Channels, NewConsole(name, console))
		case config.ChannelNATS:
			ch, err := NewNATS(name, c.NATSURL, c.Subject)
			if err != nil {
				logger.Warn("nats channel unavailable", slog.String("channel", name), slog.Any("error", err))
				continue
			}
			set.Channels = append(set.Channels, ch)
			set.closers = append(set.closers, ch)
		case config.ChannelKafka:
			ch := NewKafka(name, c.Brokers, c.Topic, c.Timeout)
			set.Channels = append(set.Channels, ch)
			set.closers = append(set.closers, ch)
		default:
			_ = set.Close()
			return nil, fmt.Errorf("channel %s: unknown type %q", name, c.Type)
		}
		logger.Debug("channel configured", slog.String("channel", name), slog.String("type", c.Type))
	}
	return set, nil
}
