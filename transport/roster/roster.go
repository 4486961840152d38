// Package roster keeps the contact list of a session on backends whose
// broker stores no rosters. It tracks both sides of the subscription
// handshake; the caller moves the requests over the wire.
package roster

import (
	"fmt"
	"sort"
	"sync"

	"github.com/purposeinplay/go-artifact/transport"
)

// Roster is safe for concurrent use. Addresses are expected in canonical
// bare form.
type Roster struct {
	mu sync.Mutex

	approveAll bool

	// contact -> last seen available
	contacts map[string]bool

	// requests from others waiting for approval
	pending map[string]struct{}

	// own requests waiting for an answer
	asked map[string]struct{}
}

// New returns an empty Roster.
func New() *Roster {
	r := &Roster{}
	r.reset()

	return r
}

func (r *Roster) reset() {
	r.contacts = make(map[string]bool)
	r.pending = make(map[string]struct{})
	r.asked = make(map[string]struct{})
}

// Reset forgets everything but the approve-all setting.
func (r *Roster) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reset()
}

// Ask records a request sent to address.
func (r *Roster) Ask(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.contacts[address]; ok {
		return
	}

	r.asked[address] = struct{}{}
}

// Requested records a request from address. It reports whether the
// request was approved on arrival, in which case the caller answers it.
func (r *Roster) Requested(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.approveAll {
		r.add(address)
		return true
	}

	r.pending[address] = struct{}{}

	return false
}

// Approve accepts the pending request of address.
func (r *Roster) Approve(address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[address]; !ok {
		return fmt.Errorf("approve %s: %w", address, transport.ErrNoRequest)
	}

	r.add(address)

	return nil
}

// Approved records that address accepted a request. Answers nobody asked
// for are ignored. It reports whether address joined the roster.
func (r *Roster) Approved(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.asked[address]; !ok {
		return false
	}

	r.add(address)

	return true
}

// SetApproveAll toggles automatic approval. Enabling it approves the
// pending requests, which are returned for the caller to answer.
func (r *Roster) SetApproveAll(approve bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.approveAll = approve

	if !approve {
		return nil
	}

	approved := make([]string, 0, len(r.pending))

	for address := range r.pending {
		r.add(address)
		approved = append(approved, address)
	}

	sort.Strings(approved)

	return approved
}

// SetAvailable records the availability of a contact. Strangers are
// ignored. It reports whether the value changed.
func (r *Roster) SetAvailable(address string, available bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, ok := r.contacts[address]
	if !ok || previous == available {
		return false
	}

	r.contacts[address] = available

	return true
}

// Contacts returns the sorted contacts.
func (r *Roster) Contacts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	contacts := make([]string, 0, len(r.contacts))

	for address := range r.contacts {
		contacts = append(contacts, address)
	}

	sort.Strings(contacts)

	return contacts
}

func (r *Roster) add(address string) {
	delete(r.pending, address)
	delete(r.asked, address)

	if _, ok := r.contacts[address]; !ok {
		r.contacts[address] = false
	}
}
