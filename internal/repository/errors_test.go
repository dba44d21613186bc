package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUnavailable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("get invoice: %w", context.DeadlineExceeded), true},
		{"bad connection", driver.ErrBadConn, true},
		{"connection failure", &pq.Error{Code: "08006"}, true},
		{"query canceled", &pq.Error{Code: "57014"}, true},
		{"unique violation", &pq.Error{Code: "23505"}, false},
		{"plain error", errors.New("syntax error"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsUnavailable(tc.err))
		})
	}
}

func TestTranslateUnique(t *testing.T) {
	assert.ErrorIs(t, translateUnique(&pq.Error{Code: "23505"}), ErrDuplicate)
	assert.NoError(t, translateUnique(&pq.Error{Code: "08006"}))
	assert.NoError(t, translateUnique(errors.New("nope")))
}
