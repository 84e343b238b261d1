package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpiryBus(t *testing.T) {
	t.Parallel()

	bus := NewExpiryBus()
	var a, b []error

	unsubA := bus.Subscribe(func(err error) { a = append(a, err) })
	bus.Subscribe(func(err error) { b = append(b, err) })

	first := errors.New("first")
	bus.Publish(first)
	unsubA()
	bus.Publish(errors.New("second"))

	require.Equal(t, []error{first}, a)
	require.Len(t, b, 2)
}
