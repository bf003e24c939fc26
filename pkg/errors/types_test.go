// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControllerErrorIsMatchesOnKind(t *testing.T) {
	e1 := New(KindNotFound, "job 5 not found")
	e2 := New(KindNotFound, "node n3 not found")
	assert.True(t, errors.Is(e1, e2))

	e3 := New(KindAccessDenied, "not authorized")
	assert.False(t, errors.Is(e1, e3))
}

func TestControllerErrorRetryable(t *testing.T) {
	assert.True(t, New(KindDBConnection, "lost connection").Retryable())
	assert.False(t, New(KindNotFound, "missing").Retryable())
}

func TestControllerErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(KindSocketError, "send failed", cause)
	assert.Same(t, cause, errors.Unwrap(wrapped))
}

func TestAggregateSingleError(t *testing.T) {
	var agg Aggregate
	agg.Add(Field(KindInvalidAccount, "account required", "account", ""))
	err := agg.ErrorOrNil(KindReservationInvalid, "reservation validation failed")
	require.Error(t, err)
	var ce *ControllerError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, KindInvalidAccount, ce.Kind)
}

func TestAggregateMultipleErrors(t *testing.T) {
	var agg Aggregate
	agg.Add(Field(KindInvalidAccount, "account required", "account", ""))
	agg.Add(Field(KindInvalidUser, "user required", "user", ""))
	err := agg.ErrorOrNil(KindReservationInvalid, "reservation validation failed")
	require.Error(t, err)
	var ce *ControllerError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, KindReservationInvalid, ce.Kind)
	assert.Error(t, ce.Cause)
}

func TestAggregateNoErrors(t *testing.T) {
	var agg Aggregate
	assert.NoError(t, agg.ErrorOrNil(KindReservationInvalid, "should not happen"))
}
