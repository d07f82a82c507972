package runlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/latencyguard/internal/utils"
)

// releaseScript deletes the key only while it still holds our token, so an expired
// lease never removes a lock taken over by another replica.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

// Valkey is a distributed lease: SET key token NX PX ttl.
type Valkey struct {
	client *respClient
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewValkey creates a lease on key. It pings the server to fail fast when credentials or
// connectivity are wrong.
func NewValkey(ctx context.Context, cfg ValkeyConfig, key string, ttl time.Duration, logger *slog.Logger) (*Valkey, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	if key == "" {
		return nil, errors.New("lease key is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	normaliseDurations(&cfg)

	v := &Valkey{client: &respClient{cfg: cfg}, key: key, ttl: ttl, logger: logger}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	reply, err := v.client.do(pingCtx, "PING")
	if err != nil {
		return nil, fmt.Errorf("ping valkey %s: %w", cfg.Addr, err)
	}
	if reply.typ != replySimpleString || string(reply.data) != "PONG" {
		return nil, fmt.Errorf("unexpected PING response: %s", reply.data)
	}
	return v, nil
}

// TryAcquire implements Locker.
func (v *Valkey) TryAcquire(ctx context.Context) (Lease, error) {
	token := uuid.NewString()
	reply, err := v.client.do(ctx, "SET", v.key, token, "PX", strconv.FormatInt(v.ttl.Milliseconds(), 10), "NX")
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", v.key, err)
	}
	switch reply.typ {
	case replySimpleString:
		v.logger.Debug("lease acquired", slog.String("key", v.key), slog.Duration("ttl", v.ttl))
		return &valkeyLease{owner: v, token: token}, nil
	case replyNil:
		return nil, utils.NewAppError("acquire lease "+v.key, "held by another replica", utils.ErrCycleInProgress)
	default:
		return nil, fmt.Errorf("unexpected SET NX response type: %s", reply.typ)
	}
}

type valkeyLease struct {
	owner *Valkey
	token string
}

func (l *valkeyLease) Release(ctx context.Context) error {
	reply, err := l.owner.client.do(ctx, "EVAL", releaseScript, "1", l.owner.key, l.token)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", l.owner.key, err)
	}
	if reply.typ == replyInteger && string(reply.data) == "0" {
		l.owner.logger.Warn("lease expired before release", slog.String("key", l.owner.key))
	}
	return nil
}
