package objects

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompleteBootstrapMarksOperationalInstancesOnly(t *testing.T) {
	s := NewSecurity()
	s.AddInstance(0, SecurityInstance{IsBootstrap: true})
	s.AddInstance(1, SecurityInstance{ShortServerID: 1, IsBootstrap: false})
	s.AddInstance(2, SecurityInstance{ShortServerID: 2, IsBootstrap: false})

	s.CompleteBootstrap()

	bootstrap, _ := s.Get(0)
	require.False(t, bootstrap.Bootstrapped)

	op1, _ := s.Get(1)
	require.True(t, op1.Bootstrapped)

	op2, _ := s.Get(2)
	require.True(t, op2.Bootstrapped)
}
