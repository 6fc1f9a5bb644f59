// ABOUTME: Tests for the error taxonomy and its HTTP status mapping

package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeRemote struct{ status int }

func (f fakeRemote) Error() string      { return "remote failed" }
func (f fakeRemote) RemoteStatus() int { return f.status }

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", New(Validation, "missing signature"), http.StatusBadRequest},
		{"auth", New(Auth, "bad signature"), http.StatusUnauthorized},
		{"not applicable", New(NotApplicable, "unknown user %s", "x"), http.StatusNotAcceptable},
		{"remote classified", Wrap(Remote, errors.New("boom"), "listing"), http.StatusInternalServerError},
		{"remote unclassified", fmt.Errorf("listing: %w", fakeRemote{status: 409}), http.StatusInternalServerError},
		{"plain", errors.New("whatever"), http.StatusInternalServerError},
		{"wrapped fault", fmt.Errorf("outer: %w", New(NotApplicable, "no room")), http.StatusNotAcceptable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}

func TestKindOf_Remote(t *testing.T) {
	err := fmt.Errorf("posting: %w", fakeRemote{status: 500})
	assert.Equal(t, Remote, KindOf(err))
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(Auth, nil, "x"))
}

func TestError_Message(t *testing.T) {
	cause := errors.New("cause")
	assert.Equal(t, "ctx: cause", Wrap(Unexpected, cause, "ctx").Error())
	assert.Equal(t, "cause", Wrap(Unexpected, cause, "").Error())
	assert.Equal(t, "only message", New(Validation, "only message").Error())
	assert.True(t, errors.Is(Wrap(Remote, cause, "ctx"), cause))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "not_applicable", NotApplicable.String())
	assert.Equal(t, "unexpected", Kind(99).String())
}
