package aic

import (
	"github.com/gin-gonic/gin"
)

// ListChannels is unauthenticated: an agent needs this to discover a roomId
// before it has a session to authenticate with.
func (d *Deps) ListChannels(c *gin.Context) {
	ok(c, gin.H{"channels": d.Registry.ListChannels()})
}
