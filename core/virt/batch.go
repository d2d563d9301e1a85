package virt

import (
	"cmp"
	"errors"
	"fmt"
	"iter"
	"memflow/core"
	"memflow/core/mem"
	"slices"

	log "github.com/sirupsen/logrus"
)

// maxCoalescedSize bounds the size of a single physical access that is
// produced by merging requests.
const maxCoalescedSize = mem.Mb

var (
	// ErrPhysRead is returned for requests whose physical read failed.
	ErrPhysRead = &core.Error{Module: "virt", Kind: core.KindBackend, Message: "physical read failed"}

	// ErrPhysWrite is returned for requests whose physical write failed.
	ErrPhysWrite = &core.Error{Module: "virt", Kind: core.KindBackend, Message: "physical write failed"}
)

// ReadRequest asks for len(Buf) bytes of virtual memory at Addr.
type ReadRequest struct {
	Addr mem.Address
	Buf  []byte
}

// WriteRequest asks for Data to be written to the virtual memory at Addr.
type WriteRequest struct {
	Addr mem.Address
	Data []byte
}

// RequestError attributes an error to a single request of a batch.
type RequestError struct {
	// The position of the request in the batch.
	Index int

	// The virtual address of the request.
	Addr mem.Address

	Err error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("request %d at %s: %s", e.Index, e.Addr, e.Err.Error())
}

// Unwrap returns the error of the request.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// BatchResult reports the outcome of a batched read or write. Requests that
// are not listed in Failures completed successfully.
type BatchResult struct {
	// The number of requests in the batch.
	Requests int

	// The failed requests ordered by index.
	Failures []RequestError
}

// OK returns true if every request succeeded.
func (r BatchResult) OK() bool {
	return len(r.Failures) == 0
}

// Failed returns the error of the request at the given index or nil if
// that request succeeded.
func (r BatchResult) Failed(index int) error {
	i, found := slices.BinarySearchFunc(r.Failures, index, func(f RequestError, index int) int {
		return cmp.Compare(f.Index, index)
	})
	if !found {
		return nil
	}
	return r.Failures[i].Err
}

// Err returns nil if every request succeeded or an error joining the
// failures of all requests.
func (r BatchResult) Err() error {
	if r.OK() {
		return nil
	}

	errs := make([]error, len(r.Failures))
	for i := range r.Failures {
		errs[i] = &r.Failures[i]
	}
	return errors.Join(errs...)
}

// physChunk is the part of a request that lies in a single page.
type physChunk struct {
	addr mem.PhysicalAddress
	buf  []byte
	req  int
}

func (c physChunk) end() mem.Address {
	return c.addr.Address.Add(mem.Size(len(c.buf)))
}

// batch collects the physical chunks of the requests of a single call.
type batch struct {
	addrs  []mem.Address
	chunks []physChunk
	failed map[int]error
}

func (b *batch) fail(index int, err error) {
	if b.failed == nil {
		b.failed = make(map[int]error)
	}
	if _, exists := b.failed[index]; exists {
		return
	}

	b.failed[index] = err
	log.WithFields(log.Fields{
		"request": index,
		"addr":    b.addrs[index],
		"error":   err,
	}).Debug("virtual memory request failed")
}

func (b *batch) result() BatchResult {
	res := BatchResult{Requests: len(b.addrs)}
	for index, err := range b.failed {
		res.Failures = append(res.Failures, RequestError{Index: index, Addr: b.addrs[index], Err: err})
	}
	slices.SortFunc(res.Failures, func(x, y RequestError) int {
		return cmp.Compare(x.Index, y.Index)
	})
	return res
}

// add splits the request into per-page chunks. If any page of the request
// fails to translate, none of its chunks are kept and the request is
// marked as failed.
func (v *VirtualFromPhysical[P, V]) add(b *batch, virtAddr mem.Address, buf []byte) {
	index := len(b.addrs)
	b.addrs = append(b.addrs, virtAddr)

	start := len(b.chunks)
	for len(buf) > 0 {
		physAddr, page, err := v.vat.VirtToPhys(v.physMem, v.dtb, virtAddr)
		if err != nil {
			b.chunks = b.chunks[:start]
			b.fail(index, err)
			return
		}

		n := min(mem.Size(len(buf)), page.Size-virtAddr.PageOffset(page.Size))
		b.chunks = append(b.chunks, physChunk{addr: physAddr, buf: buf[:n], req: index})
		buf = buf[n:]
		virtAddr = virtAddr.Add(n)
	}
}

// sortChunks orders the chunks by physical address. The sort is stable so
// chunks at the same address keep their request order.
func (b *batch) sortChunks() {
	slices.SortStableFunc(b.chunks, func(x, y physChunk) int {
		return cmp.Compare(x.addr.Address, y.addr.Address)
	})
}

// runs splits the sorted chunks into runs that can be served by a single
// physical access. Reads merge adjacent and overlapping chunks; writes only
// merge adjacent ones.
func (b *batch) runs(allowOverlap bool) iter.Seq[[]physChunk] {
	return func(yield func([]physChunk) bool) {
		for i := 0; i < len(b.chunks); {
			var (
				runStart = b.chunks[i].addr.Address
				runEnd   = b.chunks[i].end()
				j        = i + 1
			)

			for ; j < len(b.chunks); j++ {
				next := b.chunks[j]
				if next.addr.Address > runEnd || (!allowOverlap && next.addr.Address != runEnd) {
					break
				}

				end := max(runEnd, next.end())
				if mem.Size(end-runStart) > maxCoalescedSize {
					break
				}
				runEnd = end
			}

			if !yield(b.chunks[i:j]) {
				return
			}
			i = j
		}
	}
}

// runBounds returns the physical range covered by a run.
func runBounds(run []physChunk) (mem.PhysicalAddress, mem.Size) {
	start := run[0].addr
	end := run[0].end()
	for _, c := range run[1:] {
		end = max(end, c.end())
	}
	return start, mem.Size(end - start.Address)
}

// retryReads serves the chunks of a merged run whose read failed one at a
// time, so that only the requests overlapping the bad range fail.
func (v *VirtualFromPhysical[P, V]) retryReads(b *batch, run []physChunk) {
	log.WithField("chunks", len(run)).Debug("merged physical read failed; retrying chunks")
	for _, c := range run {
		if err := v.physMem.PhysRead(c.addr, c.buf); err != nil {
			b.fail(c.req, core.Wrap(ErrPhysRead, err))
		}
	}
}

// retryWrites is the write counterpart of retryReads.
func (v *VirtualFromPhysical[P, V]) retryWrites(b *batch, run []physChunk) {
	log.WithField("chunks", len(run)).Debug("merged physical write failed; retrying chunks")
	for _, c := range run {
		if err := v.physMem.PhysWrite(c.addr, c.buf); err != nil {
			b.fail(c.req, core.Wrap(ErrPhysWrite, err))
		}
	}
}

// ReadRawIter implements VirtualMemory. Requests may be unsorted, unaligned
// and may cross page boundaries. Each request is translated page by page;
// the resulting physical ranges are sorted and adjacent or overlapping
// ranges are merged into a single backend read. A request whose pages do
// not all translate is reported as failed and its buffer is left
// untouched. When a merged read fails, its chunks are read one by one and
// only the requests whose own chunks fail are reported; the buffers of such
// requests may be partially filled.
func (v *VirtualFromPhysical[P, V]) ReadRawIter(reqs iter.Seq[ReadRequest]) BatchResult {
	var b batch
	for req := range reqs {
		v.add(&b, req.Addr, req.Buf)
	}

	b.sortChunks()
	for run := range b.runs(true) {
		if len(run) == 1 {
			if err := v.physMem.PhysRead(run[0].addr, run[0].buf); err != nil {
				b.fail(run[0].req, core.Wrap(ErrPhysRead, err))
			}
			continue
		}

		start, size := runBounds(run)
		scratch := make([]byte, size)
		if err := v.physMem.PhysRead(start, scratch); err != nil {
			v.retryReads(&b, run)
			continue
		}

		for _, c := range run {
			copy(c.buf, scratch[c.addr.Address-start.Address:])
		}
	}

	return b.result()
}

// WriteRawIter implements VirtualMemory. It follows the same splitting and
// attribution rules as ReadRawIter; a request that fails to translate is
// not written at all. Only adjacent ranges are merged; the order in which
// overlapping requests are written is unspecified.
func (v *VirtualFromPhysical[P, V]) WriteRawIter(reqs iter.Seq[WriteRequest]) BatchResult {
	var b batch
	for req := range reqs {
		v.add(&b, req.Addr, req.Data)
	}

	b.sortChunks()
	for run := range b.runs(false) {
		data := run[0].buf
		if len(run) > 1 {
			_, size := runBounds(run)
			data = make([]byte, 0, size)
			for _, c := range run {
				data = append(data, c.buf...)
			}
		}

		if err := v.physMem.PhysWrite(run[0].addr, data); err != nil {
			if len(run) == 1 {
				b.fail(run[0].req, core.Wrap(ErrPhysWrite, err))
				continue
			}
			v.retryWrites(&b, run)
		}
	}

	return b.result()
}
