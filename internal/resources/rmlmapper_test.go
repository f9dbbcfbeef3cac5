package resources

import (
	"testing"

	"case-bench/internal/runtime"
)

func TestRMLMapper_InstanceSafeForConcurrentUse(t *testing.T) {
	r := NewRMLMapper(Env{}).(*RMLMapper)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = r.Instance()
		}
	}()
	for i := 0; i < 1000; i++ {
		r.setInstance(&runtime.Instance{Name: "m"})
	}
	<-done

	inst := r.Instance()
	if inst == nil || inst.Name != "m" {
		t.Fatalf("expected published instance, got %v", inst)
	}
}
