package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"magic_eden", "tensor"}, splitList([]string{"magic_eden,tensor"}))
	assert.Equal(t, []string{"a", "b", "c"}, splitList([]string{"a", " b , c "}))
	assert.Nil(t, splitList([]string{",", ""}))
}
