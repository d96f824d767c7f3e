// Package keymap reconciles a two-id world: a stable local identity
// and one or more remote secondary keys, the same reconciliation a
// tracker integration needs when it must map a remote system's own
// key (a Jira issue's "PROJ-123", say) onto a local record id. KeyMap
// performs that reconciliation generically for any (type, keyName,
// keyValue) triple.
package keymap

import (
	"encoding/json"
	"sync"
)

// store holds both directions of every (keyName, keyValue) <-> localId
// binding, per type.
type store struct {
	// idToKey[type][localId][keyName] = keyValue
	idToKey map[string]map[string]map[string]string
	// keyToID[type][keyName][keyValue] = localId
	keyToID map[string]map[string]map[string]string
}

// KeyMap is a bidirectional (type, keyName, keyValue) <-> localId index.
// An insertion of a new remote key for an existing local id merges;
// a key value that later maps to a different local id replaces the
// previous mapping (last-writer-wins).
type KeyMap struct {
	mu sync.RWMutex
	s  store
}

// New returns an empty KeyMap.
func New() *KeyMap {
	return &KeyMap{s: store{
		idToKey: map[string]map[string]map[string]string{},
		keyToID: map[string]map[string]map[string]string{},
	}}
}

// PushRecord registers every (keyName, keyValue) pair found on a record
// for the given type/id, setting bidirectional mappings. Last write for
// a given (type, keyName, keyValue) wins.
func (k *KeyMap) PushRecord(recordType, localID string, keys map[string]string) {
	if len(keys) == 0 {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	for keyName, keyValue := range keys {
		k.setLocked(recordType, keyName, keyValue, localID)
	}
}

// SetKey sets a single (type, keyName, keyValue) -> localId binding.
func (k *KeyMap) SetKey(recordType, keyName, keyValue, localID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.setLocked(recordType, keyName, keyValue, localID)
}

func (k *KeyMap) setLocked(recordType, keyName, keyValue, localID string) {
	// Drop the stale halves of any binding this one supersedes, so each
	// (type, keyName) stays a one-to-one mapping in both directions.
	if prevID, ok := k.s.keyToID[recordType][keyName][keyValue]; ok && prevID != localID {
		delete(k.s.idToKey[recordType][prevID], keyName)
	}
	if prevValue, ok := k.s.idToKey[recordType][localID][keyName]; ok && prevValue != keyValue {
		delete(k.s.keyToID[recordType][keyName], prevValue)
	}

	if k.s.idToKey[recordType] == nil {
		k.s.idToKey[recordType] = map[string]map[string]string{}
	}
	if k.s.idToKey[recordType][localID] == nil {
		k.s.idToKey[recordType][localID] = map[string]string{}
	}
	k.s.idToKey[recordType][localID][keyName] = keyValue

	if k.s.keyToID[recordType] == nil {
		k.s.keyToID[recordType] = map[string]map[string]string{}
	}
	if k.s.keyToID[recordType][keyName] == nil {
		k.s.keyToID[recordType][keyName] = map[string]string{}
	}
	// Last-writer-wins: if keyValue previously pointed at a different
	// local id, that mapping is silently replaced.
	k.s.keyToID[recordType][keyName][keyValue] = localID
}

// IDFromKeys looks up the local id for the first known (keyName,
// keyValue) pair in keys, returning ("", false) when none are known.
func (k *KeyMap) IDFromKeys(recordType string, keys map[string]string) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	byKey := k.s.keyToID[recordType]
	if byKey == nil {
		return "", false
	}
	for keyName, keyValue := range keys {
		if ids, ok := byKey[keyName]; ok {
			if id, ok := ids[keyValue]; ok {
				return id, true
			}
		}
	}
	return "", false
}

// KeyToID looks up the local id for one (type, keyName, keyValue).
func (k *KeyMap) KeyToID(recordType, keyName, keyValue string) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids, ok := k.s.keyToID[recordType][keyName]
	if !ok {
		return "", false
	}
	id, ok := ids[keyValue]
	return id, ok
}

// IDToKey looks up the remote key value for one (type, keyName, localId).
func (k *KeyMap) IDToKey(recordType, keyName, localID string) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	keys, ok := k.s.idToKey[recordType][localID]
	if !ok {
		return "", false
	}
	v, ok := keys[keyName]
	return v, ok
}

// KeysFromID returns every known (keyName -> keyValue) pair for a local id.
func (k *KeyMap) KeysFromID(recordType, localID string) map[string]string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	keys, ok := k.s.idToKey[recordType][localID]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(keys))
	for kn, kv := range keys {
		out[kn] = kv
	}
	return out
}

// snapshot is the JSON-serializable form persisted to a Bucket.
type snapshot struct {
	IDToKey map[string]map[string]map[string]string `json:"id_to_key"`
	KeyToID map[string]map[string]map[string]string `json:"key_to_id"`
}

// MarshalJSON serializes the KeyMap for bucket persistence (the
// "supplemented" KeyMap-persistence feature recorded in DESIGN.md).
func (k *KeyMap) MarshalJSON() ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return json.Marshal(snapshot{IDToKey: k.s.idToKey, KeyToID: k.s.keyToID})
}

// UnmarshalJSON hydrates the KeyMap from a previously persisted snapshot.
func (k *KeyMap) UnmarshalJSON(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if snap.IDToKey == nil {
		snap.IDToKey = map[string]map[string]map[string]string{}
	}
	if snap.KeyToID == nil {
		snap.KeyToID = map[string]map[string]map[string]string{}
	}
	k.s = store{idToKey: snap.IDToKey, keyToID: snap.KeyToID}
	return nil
}
