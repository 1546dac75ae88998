package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeFeedURL(t *testing.T) {
	url, err := composeFeedURL("https://transit.example.com/gtfsrt", "")
	require.NoError(t, err)
	assert.Equal(t, "https://transit.example.com/gtfsrt", url)

	url, err = composeFeedURL("https://transit.example.com/gtfsrt", "sekrit")
	require.NoError(t, err)
	assert.Equal(t, "https://transit.example.com/gtfsrt?apikey=sekrit", url)

	url, err = composeFeedURL("https://transit.example.com/gtfsrt?format=pb", "sekrit")
	require.NoError(t, err)
	assert.Equal(t, "https://transit.example.com/gtfsrt?apikey=sekrit&format=pb", url)

	_, err = composeFeedURL("://nope", "sekrit")
	assert.Error(t, err)
}
