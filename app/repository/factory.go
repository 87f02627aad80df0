package repository

import (
	"sync"

	"gorm.io/gorm"
)

var (
	globalMu    sync.RWMutex
	globalRepos *Repositories
)

// Init builds the shared repositories on db and returns them.
func Init(db *gorm.DB) *Repositories {
	repos := NewRepositories(db)
	globalMu.Lock()
	globalRepos = repos
	globalMu.Unlock()
	return repos
}

// Global returns the repositories set up by Init. It panics before Init,
// which only happens on a wiring mistake at boot.
func Global() *Repositories {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalRepos == nil {
		panic("repository: Init must be called before Global")
	}
	return globalRepos
}
