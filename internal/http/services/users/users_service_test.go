package users

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	dto "github.com/dropDatabas3/vdigate/internal/http/dto/users"
	"github.com/dropDatabas3/vdigate/internal/oauth/ory"
)

type fakeKratos struct {
	got ory.CreateIdentity
	err error
}

func (f *fakeKratos) CreateIdentity(_ context.Context, in ory.CreateIdentity) (*ory.Identity, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return &ory.Identity{ID: "7f1c0b2e-3f5a-4c3e-9a53-0d6a7e1b9c10", Email: in.Email, Role: in.Role}, nil
}

func TestCreate_DefaultsRole(t *testing.T) {
	k := &fakeKratos{}
	out, err := NewService(k).Create(context.Background(), dto.CreateRequest{Email: " Ops@Greenion.Local ", Password: "s3cret!"})
	require.NoError(t, err)
	require.Equal(t, "ops@greenion.local", k.got.Email)
	require.Equal(t, "user", out.Role)
}

func TestCreate_Validation(t *testing.T) {
	k := &fakeKratos{}
	s := NewService(k)

	_, err := s.Create(context.Background(), dto.CreateRequest{Email: "a@b.c"})
	require.ErrorIs(t, err, ErrMissingFields)

	_, err = s.Create(context.Background(), dto.CreateRequest{Email: "nope", Password: "x"})
	require.ErrorIs(t, err, ErrInvalidEmail)

	_, err = s.Create(context.Background(), dto.CreateRequest{Email: "a@b.c", Password: "x", Role: "Admin;"})
	require.ErrorIs(t, err, ErrInvalidRole)
	require.Empty(t, k.got.Email)
}

func TestCreate_ProviderErrorPassthrough(t *testing.T) {
	k := &fakeKratos{err: &ory.ProviderError{
		Provider: "kratos",
		Status:   http.StatusConflict,
		Payload:  json.RawMessage(`{"error":{"code":409,"reason":"exists"}}`),
	}}
	_, err := NewService(k).Create(context.Background(), dto.CreateRequest{Email: "a@b.c", Password: "x", Role: "admin"})
	pe, ok := ory.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusConflict, pe.Status)
}
