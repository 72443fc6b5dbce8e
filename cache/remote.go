package cache

// RemoteBlock is the last remote block merged into the cache.
func (c *StateCache[V]) RemoteBlock() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remote.Block
}

// RemoteNonce is the epoch token of the remote dataset the cache was merged from.
func (c *StateCache[V]) RemoteNonce() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remote.Nonce
}

// RemoteComponentIndex is the next remote component index expected.
func (c *StateCache[V]) RemoteComponentIndex() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint32(len(c.remote.Components))
}

// RemoteEntityIndex is the next remote entity index expected.
func (c *StateCache[V]) RemoteEntityIndex() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint32(len(c.remote.Entities))
}

// MergeRemoteComponent interns a component reported by the remote table at
// remoteIdx. It returns false, leaving the cache unchanged, when remoteIdx
// is not the next expected position.
func (c *StateCache[V]) MergeRemoteComponent(remoteIdx uint32, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(remoteIdx) != len(c.remote.Components) {
		return false
	}
	c.remote.Components = append(c.remote.Components, c.components.Intern(id))
	return true
}

// MergeRemoteEntity is the entity counterpart of MergeRemoteComponent.
func (c *StateCache[V]) MergeRemoteEntity(remoteIdx uint32, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(remoteIdx) != len(c.remote.Entities) {
		return false
	}
	c.remote.Entities = append(c.remote.Entities, c.entities.Intern(id))
	return true
}

func (c *StateCache[V]) translateLocked(remoteComp, remoteEnt uint32) (Key, bool) {
	if int(remoteComp) >= len(c.remote.Components) || int(remoteEnt) >= len(c.remote.Entities) {
		return 0, false
	}
	return MakeKey(c.remote.Components[remoteComp], c.remote.Entities[remoteEnt]), true
}

// SetRemote stores a value addressed by remote table indices. It returns
// false when either index has not been merged.
func (c *StateCache[V]) SetRemote(remoteComp, remoteEnt uint32, v V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k, ok := c.translateLocked(remoteComp, remoteEnt)
	if !ok {
		return false
	}
	c.setLocked(k, v, true)
	return true
}

// RemoveRemote deletes a value addressed by remote table indices.
func (c *StateCache[V]) RemoveRemote(remoteComp, remoteEnt uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k, ok := c.translateLocked(remoteComp, remoteEnt)
	if !ok {
		return false
	}
	var zero V
	c.setLocked(k, zero, false)
	return true
}

// SetRemoteEpoch records a completed reconciliation.
func (c *StateCache[V]) SetRemoteEpoch(block uint64, nonce string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote.Block = block
	c.remote.Nonce = nonce
}

// RemoteComponentID resolves a merged remote component index to its identifier.
func (c *StateCache[V]) RemoteComponentID(remoteIdx uint32) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if int(remoteIdx) >= len(c.remote.Components) {
		return "", false
	}
	return c.components.Value(c.remote.Components[remoteIdx])
}
