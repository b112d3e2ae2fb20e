package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/robot-control/rgw/internal/adapter/fake"
	"github.com/robot-control/rgw/internal/model"
)

func TestResolveIsCaseInsensitive(t *testing.T) {
	a := fake.New("company_a")
	r, err := New(a, fake.New("company_b"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, id := range []string{"company_a", "Company_A", "COMPANY_A"} {
		got, err := r.Resolve(id)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", id, err)
		}
		if got != a {
			t.Errorf("Resolve(%q) returned a different adapter", id)
		}
	}
}

func TestResolveUnknownVendor(t *testing.T) {
	r, _ := New(fake.New("company_a"))

	tests := []string{"", "company_c", "company", "company_a2", " company_a ", "company_a\n", "\tCOMPANY_A"}
	for _, id := range tests {
		_, err := r.Resolve(id)
		if !errors.Is(err, model.ErrUnsupportedVendor) {
			t.Errorf("Resolve(%q) error = %v, want ErrUnsupportedVendor", id, err)
		}
		var rerr *ResolutionError
		if !errors.As(err, &rerr) || rerr.VendorID != id {
			t.Errorf("Resolve(%q) should report the vendor id, got %v", id, err)
		}
	}

	// Resolution has no side effects.
	if got := r.Vendors(); len(got) != 1 {
		t.Errorf("Vendors() = %v after failed lookups", got)
	}
}

func TestRegisterRejectsDuplicatesAndEmpty(t *testing.T) {
	r, _ := New(fake.New("company_a"))

	if err := r.Register(fake.New("COMPANY_A")); err == nil {
		t.Error("duplicate vendor should be rejected")
	}
	if err := r.Register(fake.New("  ")); err == nil {
		t.Error("empty vendor should be rejected")
	}
	if err := r.Register(fake.New(" company_b")); err == nil {
		t.Error("vendor with surrounding whitespace should be rejected")
	}
	if err := r.Register(nil); err == nil {
		t.Error("nil adapter should be rejected")
	}
	if _, err := New(fake.New("x"), fake.New("X")); err == nil {
		t.Error("New should fail on duplicates")
	}
}

func TestVendorsAndDescribeAreSorted(t *testing.T) {
	r, _ := New(fake.New("company_b"), fake.New("Company_A"))

	vendors := r.Vendors()
	if len(vendors) != 2 || vendors[0] != "company_a" || vendors[1] != "company_b" {
		t.Errorf("Vendors() = %v", vendors)
	}

	infos := r.Describe()
	if len(infos) != 2 || infos[0].ID != "company_a" {
		t.Fatalf("Describe() = %+v", infos)
	}
	if infos[0].Capabilities.Protocol != "fake" {
		t.Errorf("capabilities not carried: %+v", infos[0].Capabilities)
	}
}

func TestConcurrentResolve(t *testing.T) {
	r, _ := New(fake.New("company_a"), fake.New("company_b"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "company_a"
			if i%2 == 0 {
				id = "COMPANY_B"
			}
			if _, err := r.Resolve(id); err != nil {
				t.Errorf("Resolve(%q) error = %v", id, err)
			}
		}(i)
	}
	wg.Wait()
}
