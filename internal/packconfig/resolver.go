// Package packconfig resolves an action pack's configuration from its
// static values and datastore overrides.
package packconfig

import (
	"context"
	"fmt"

	"github.com/deixis/actionrunner/internal/action"
	"go.uber.org/zap"
)

// Item is a datastore value.
type Item struct {
	Value  any  `json:"value"`
	Secret bool `json:"secret,omitempty"`
}

// Datastore holds configuration overrides. Get returns nil and no error
// when the key is absent. An empty user addresses the global scope.
type Datastore interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, pack, key, user string) (*Item, error)
}

// Writer stores configuration overrides.
type Writer interface {
	Set(ctx context.Context, pack, key, user string, item Item) error
}

// SecretResolver turns a stored secret reference into plaintext.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// Resolver merges static pack configuration with datastore overrides.
type Resolver struct {
	Store   Datastore
	Secrets SecretResolver
	Logger  *zap.Logger
}

// Resolve returns the configuration for pack as seen by user. Precedence,
// lowest first: static value, global override, user override. Overrides
// are looked up for every key of static, which the pack loader seeds with
// the keys declared in the pack's config schema. Secrets are
// decrypted here and nowhere else. Any datastore failure aborts with a
// ConfigResolutionError.
func (r *Resolver) Resolve(ctx context.Context, pack, user string, static map[string]any) (map[string]any, error) {
	doc := make(map[string]any, len(static))
	for k, v := range static {
		doc[k] = v
	}
	if r.Store == nil {
		return doc, nil
	}

	if err := r.Store.Ping(ctx); err != nil {
		return nil, &action.ConfigResolutionError{Pack: pack, Err: fmt.Errorf("%w: %v", action.ErrDatastoreUnavailable, err)}
	}

	logger := r.logger()
	for key := range static {
		scopes := []string{""}
		if user != "" {
			scopes = append(scopes, user)
		}
		for _, scope := range scopes {
			item, err := r.Store.Get(ctx, pack, key, scope)
			if err != nil {
				return nil, &action.ConfigResolutionError{Pack: pack, Key: key, Err: err}
			}
			if item == nil {
				continue
			}
			v, err := r.value(ctx, item)
			if err != nil {
				return nil, &action.ConfigResolutionError{Pack: pack, Key: key, Err: err}
			}
			doc[key] = v
			logger.Debug("config override applied",
				zap.String("pack", pack),
				zap.String("key", key),
				zap.Bool("user_scoped", scope != ""),
				zap.Bool("secret", item.Secret))
		}
	}
	return doc, nil
}

func (r *Resolver) value(ctx context.Context, item *Item) (any, error) {
	if !item.Secret {
		return item.Value, nil
	}
	if r.Secrets == nil {
		return nil, fmt.Errorf("secret value but no secret resolver configured")
	}
	ref, ok := item.Value.(string)
	if !ok {
		return nil, fmt.Errorf("malformed secret value of type %T", item.Value)
	}
	plain, err := r.Secrets.ResolveSecret(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("decrypting secret: %w", err)
	}
	return plain, nil
}

func (r *Resolver) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger.With(zap.String("component", "packconfig"))
}

// Put stores value as an override. Secret values must be strings and are
// encrypted with c before they reach the datastore.
func Put(ctx context.Context, w Writer, c *Cipher, pack, key, user string, value any, secret bool) error {
	item := Item{Value: value, Secret: secret}
	if secret {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("secret value for %s.%s must be a string, got %T", pack, key, value)
		}
		if c == nil {
			return fmt.Errorf("storing secret %s.%s: no crypto key configured", pack, key)
		}
		enc, err := c.Encrypt(s)
		if err != nil {
			return fmt.Errorf("encrypting %s.%s: %w", pack, key, err)
		}
		item.Value = enc
	}
	return w.Set(ctx, pack, key, user, item)
}
