package presence

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegisterUserTwiceIsDuplicate(t *testing.T) {
	r := NewRegistry(nil)

	if got := r.RegisterUser("u", "c1"); got != Connected {
		t.Fatalf("first RegisterUser = %v, want CONNECTED", got)
	}
	if got := r.RegisterUser("u", "c2"); got != Duplicate {
		t.Fatalf("second RegisterUser = %v, want DUPLICATE", got)
	}

	all := r.AllConnected()
	if len(all) != 1 || all[0] != "u" {
		t.Errorf("AllConnected = %v, want [u]", all)
	}
	if conn, _ := r.ConnectionID("u"); conn != "c1" {
		t.Errorf("ConnectionID = %q, want c1 (first registration wins)", conn)
	}
}

func TestRemoveUser(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterUser("u", "c1")

	if got := r.RemoveUser("u"); got != Disconnected {
		t.Fatalf("RemoveUser = %v, want DISCONNECTED", got)
	}
	if got := r.RemoveUser("u"); got != Duplicate {
		t.Fatalf("second RemoveUser = %v, want DUPLICATE", got)
	}
	if r.IsConnected("u") {
		t.Error("IsConnected after remove")
	}
}

func TestSubscriptions(t *testing.T) {
	r := NewRegistry(nil)

	if got := r.AddSubscription("u", "s1", "/sub/chat/r1"); got != NotConnected {
		t.Fatalf("AddSubscription before connect = %v, want NOT_CONNECTED", got)
	}
	if got := r.RemoveSubscription("u", "s1"); got != NotConnected {
		t.Fatalf("RemoveSubscription before connect = %v, want NOT_CONNECTED", got)
	}

	r.RegisterUser("u", "c1")

	steps := []struct {
		name string
		do   func() State
		want State
	}{
		{"subscribe", func() State { return r.AddSubscription("u", "s1", "/sub/chat/r1") }, Subscribed},
		{"subscribe again", func() State { return r.AddSubscription("u", "s1", "/sub/chat/r1") }, Duplicate},
		{"second subscription", func() State { return r.AddSubscription("u", "s2", "/sub/chat/public") }, Subscribed},
		{"unsubscribe", func() State { return r.RemoveSubscription("u", "s1") }, Unsubscribed},
		{"unsubscribe again", func() State { return r.RemoveSubscription("u", "s1") }, Duplicate},
	}
	for _, step := range steps {
		if got := step.do(); got != step.want {
			t.Fatalf("%s = %v, want %v", step.name, got, step.want)
		}
	}

	subs := r.Subscriptions("u")
	if len(subs) != 1 || subs["s2"] != "/sub/chat/public" {
		t.Errorf("Subscriptions = %v", subs)
	}

	// the copy must not alias registry state
	subs["s9"] = "x"
	if len(r.Subscriptions("u")) != 1 {
		t.Error("Subscriptions returned a live map")
	}
}

func TestConcurrentSubscribeSameUser(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterUser("u", "c1")

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.AddSubscription("u", fmt.Sprintf("s%d", i), "/sub/chat/public")
		}(i)
	}
	wg.Wait()

	if got := len(r.Subscriptions("u")); got != n {
		t.Fatalf("len(Subscriptions) = %d, want %d (lost updates)", got, n)
	}
}

func TestConcurrentRegisterDistinctUsers(t *testing.T) {
	r := NewRegistry(nil)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("user-%03d", i)
			if got := r.RegisterUser(id, id); got != Connected {
				t.Errorf("RegisterUser(%s) = %v", id, got)
			}
		}(i)
	}
	wg.Wait()

	all := r.AllConnected()
	if len(all) != n || r.Count() != n {
		t.Fatalf("AllConnected has %d entries, want %d", len(all), n)
	}
	for i := 1; i < len(all); i++ {
		if all[i-1] >= all[i] {
			t.Fatalf("AllConnected not sorted/unique at %d: %v", i, all[i-1:i+1])
		}
	}
}

func TestClose(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterUser("b", "c2")
	r.RegisterUser("a", "c1")

	dropped := r.Close()
	if len(dropped) != 2 || dropped[0] != "a" || dropped[1] != "b" {
		t.Fatalf("Close = %v, want [a b]", dropped)
	}
	if r.IsConnected("a") {
		t.Error("IsConnected after Close")
	}
	if got := r.RegisterUser("c", "c3"); got != Closed {
		t.Errorf("RegisterUser after Close = %v, want CLOSED", got)
	}
	if got := r.AddSubscription("a", "s", "/x"); got != Closed {
		t.Errorf("AddSubscription after Close = %v, want CLOSED", got)
	}
	if again := r.Close(); again != nil {
		t.Errorf("second Close = %v, want nil", again)
	}
}
