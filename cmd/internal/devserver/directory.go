package devserver

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

type user struct {
	ID           string
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
}

type chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	OwnerID   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// directory is the in-memory user and chat registry.
type directory struct {
	mu      sync.RWMutex
	byName  map[string]*user
	byID    map[string]*user
	chats   map[string]*chat
	nextUID int
	nextCID int
}

func newDirectory(seed map[string]string) (*directory, error) {
	d := &directory{
		byName: map[string]*user{},
		byID:   map[string]*user{},
		chats:  map[string]*chat{},
	}
	names := make([]string, 0, len(seed))
	for name := range seed {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := d.addUser(name, seed[name]); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *directory) addUser(username, password string) (*user, error) {
	hash, err := hashPassword(devArgon2, password)
	if err != nil {
		return nil, fmt.Errorf("hash password for %q: %w", username, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byName[username]; ok {
		return nil, fmt.Errorf("%w: duplicate user %q", ErrConfig, username)
	}
	d.nextUID++
	u := &user{
		ID:           strconv.Itoa(d.nextUID),
		Username:     username,
		Email:        username + "@arclink.local",
		PasswordHash: hash,
	}
	d.byName[username] = u
	d.byID[u.ID] = u
	return u, nil
}

// authenticate verifies a username/password pair.
func (d *directory) authenticate(username, password string) (*user, error) {
	d.mu.RLock()
	u, ok := d.byName[username]
	d.mu.RUnlock()
	if !ok {
		// Burn comparable time so unknown users are not distinguishable by latency.
		_, _ = verifyPassword(dummyHash(), password)
		return nil, ErrInvalidCredentials
	}
	match, err := verifyPassword(u.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !match {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func (d *directory) userByID(id string) (*user, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (d *directory) createChat(ownerID, title string, now time.Time) *chat {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextCID++
	c := &chat{ID: strconv.Itoa(d.nextCID), Title: title, OwnerID: ownerID, CreatedAt: now}
	d.chats[c.ID] = c
	return c
}

func (d *directory) chatsOf(ownerID string) []chat {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := []chat{}
	for _, c := range d.chats {
		if c.OwnerID == ownerID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].ID)
		b, _ := strconv.Atoi(out[j].ID)
		return a < b
	})
	return out
}

// ownsChat reports whether chatID exists and belongs to userID.
func (d *directory) ownsChat(userID, chatID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.chats[chatID]
	return ok && c.OwnerID == userID
}

var dummyHash = sync.OnceValue(func() string {
	h, _ := hashPassword(devArgon2, "arclink-dummy-password")
	return h
})
