package state

import (
	"context"

	"github.com/gravitational/trace"
	jsoniter "github.com/json-iterator/go"

	"github.com/toolbar-labs/magic-tracker/lib/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NB: racy, does not use locking across processes.
type kvState struct {
	store storage.Store
	key   string
}

// NewKVState keeps the credentials under key in store.
func NewKVState(store storage.Store, key string) (State, error) {
	if store == nil {
		return nil, trace.BadParameter("missing storage")
	}
	if key == "" {
		return nil, trace.BadParameter("missing credentials key")
	}
	return &kvState{store: store, key: key}, nil
}

func (s *kvState) GetCredentials(ctx context.Context) (*Credentials, error) {
	payload, err := s.store.Get(ctx, s.key)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var creds Credentials
	err = json.Unmarshal(payload, &creds)
	if err != nil {
		return nil, trace.BadParameter("malformed credentials: %v", err)
	} else if creds.AccessToken == "" {
		return nil, trace.NotFound("state does not contain `token`")
	} else if creds.RefreshToken == "" {
		return nil, trace.NotFound("state does not contain `refreshToken`")
	} else if creds.ExpiresAt.IsZero() {
		return nil, trace.NotFound("state does not contain `expiresAt`")
	}

	return &creds, nil
}

func (s *kvState) PutCredentials(ctx context.Context, creds *Credentials) error {
	if creds == nil {
		return trace.BadParameter("missing credentials")
	}
	payload, err := json.Marshal(creds)
	if err != nil {
		return trace.Wrap(err)
	}

	return trace.Wrap(s.store.Set(ctx, s.key, payload))
}

func (s *kvState) DeleteCredentials(ctx context.Context) error {
	return trace.Wrap(s.store.Remove(ctx, s.key))
}
