package eventbus

import (
	"context"
	"net/url"

	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"

	"subjectbus/internal/core"
)

// Dial opens an endpoint for rawURL. The scheme picks the transport:
//
//	mem://               private in-process bus
//	redis://, rediss://  Redis Pub/Sub
//	nats://, tls://      NATS
func Dial(ctx context.Context, rawURL string, logger core.Logger) (Endpoint, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Annotatef(err, "parsing bus URL")
	}
	switch u.Scheme {
	case "mem", "memory":
		return NewMemoryBus().Endpoint(), nil
	case "redis", "rediss":
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, errors.Trace(err)
		}
		ep := NewRedisEndpoint(opts, logger)
		if err := ep.Ping(ctx); err != nil {
			_ = ep.Close()
			return nil, errors.Annotatef(err, "connecting to %s", u.Host)
		}
		return ep, nil
	case "nats", "tls":
		return DialNATS(rawURL, logger)
	}
	return nil, errors.Annotatef(ErrUnsupportedScheme, "%q", u.Scheme)
}
