package softkernel

import (
	"github.com/vkngwrapper/bufmgr/kernel"
)

// Retire completes the oldest outstanding request. It returns false if nothing was outstanding.
func (k *Kernel) Retire() bool {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	if len(k.pending) == 0 {
		return false
	}

	req := k.pending[0]
	k.pending = k.pending[1:]
	close(req.done)
	return true
}

// RetireAll completes every outstanding request
func (k *Kernel) RetireAll() {
	for k.Retire() {
	}
}

// Outstanding is the number of requests that have not been retired
func (k *Kernel) Outstanding() int {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	return len(k.pending)
}

// Purge discards the pages of every object currently marked DontNeed, the way the kernel does
// under memory pressure. It returns the number of objects purged.
func (k *Kernel) Purge() int {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	count := 0
	k.objects.Iter(func(handle kernel.Handle, obj *object) bool {
		if obj.purgeable && !obj.purged {
			if err := k.purge(obj); err != nil {
				k.logger.Error("SoftKernel::Purge failed to discard pages")
			}
			count++
		}
		return false
	})
	return count
}

// Created is the total number of objects ever created
func (k *Kernel) Created() int {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	return k.created
}

// LiveObjects is the number of handles currently open
func (k *Kernel) LiveObjects() int {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	return k.objects.Count()
}

// LiveMappings is the number of CPU views that have been produced and not yet unmapped
func (k *Kernel) LiveMappings() int {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	return k.liveMappings
}

// Executions is the number of requests that were accepted
func (k *Kernel) Executions() int {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	return k.executions
}

// LastRequest is the most recent accepted request
func (k *Kernel) LastRequest() *kernel.ExecRequest {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	return k.lastRequest
}

// Address returns the aperture address an object was last placed at
func (k *Kernel) Address(handle kernel.Handle) (uint64, bool) {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	obj, ok := k.objects.Get(handle)
	if !ok || !obj.bound {
		return 0, false
	}
	return obj.address, true
}

// IsPurgeable reports whether an object is currently marked DontNeed
func (k *Kernel) IsPurgeable(handle kernel.Handle) bool {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	obj, ok := k.objects.Get(handle)
	return ok && obj.purgeable
}
