package kernel

import "strings"

// Handle is the kernel-assigned identifier for a buffer object, unique within one kernel connection
type Handle uint32

// Name is a global, flink-style name that can be passed to another process to open the same object
type Name uint32

// ContextID identifies a hardware execution context. DefaultContext always exists.
type ContextID uint32

const DefaultContext ContextID = 0

// Fence is a completion token returned by Execute when one was requested
type Fence int

const NoFence Fence = -1

type TilingMode uint32

const (
	TilingNone TilingMode = iota
	TilingX
	TilingY
)

var tilingModeNames = map[TilingMode]string{
	TilingNone: "TilingNone",
	TilingX:    "TilingX",
	TilingY:    "TilingY",
}

func (m TilingMode) String() string {
	return tilingModeNames[m]
}

type SwizzleMode uint32

const (
	SwizzleNone SwizzleMode = iota
	Swizzle9
	Swizzle9And10
	SwizzleUnknown
)

// Tiling is the effective layout the kernel applied to an object
type Tiling struct {
	Mode    TilingMode
	Stride  int
	Swizzle SwizzleMode
}

// MapKind selects which CPU view of an object the kernel should produce
type MapKind uint32

const (
	// MapCPU is a cached mapping of the object's backing pages
	MapCPU MapKind = iota
	// MapGTT is a mapping through the GPU aperture, detiled by the hardware
	MapGTT
	// MapWC is a write-combined mapping of the object's backing pages
	MapWC
)

var mapKindNames = map[MapKind]string{
	MapCPU: "MapCPU",
	MapGTT: "MapGTT",
	MapWC:  "MapWC",
}

func (k MapKind) String() string {
	return mapKindNames[k]
}

// Domain is a coherence scope used when handing an object between the CPU and the GPU
type Domain uint32

const (
	DomainCPU Domain = 1 << iota
	DomainRender
	DomainSampler
	DomainCommand
	DomainInstruction
	DomainVertex
	DomainGTT
	DomainWC
)

var domainNames = []struct {
	domain Domain
	name   string
}{
	{DomainCPU, "DomainCPU"},
	{DomainRender, "DomainRender"},
	{DomainSampler, "DomainSampler"},
	{DomainCommand, "DomainCommand"},
	{DomainInstruction, "DomainInstruction"},
	{DomainVertex, "DomainVertex"},
	{DomainGTT, "DomainGTT"},
	{DomainWC, "DomainWC"},
}

func (d Domain) String() string {
	var parts []string
	for _, entry := range domainNames {
		if d&entry.domain != 0 {
			parts = append(parts, entry.name)
		}
	}
	return strings.Join(parts, "|")
}

// Advice is the reclaim advisory state attached to an object
type Advice uint32

const (
	AdviceWillNeed Advice = iota
	AdviceDontNeed
)

// Param names a capability the kernel can be asked about
type Param uint32

const (
	ParamChipsetGen Param = iota
	ParamHasLLC
	ParamHasWCMmap
	ParamHasWCDomain
	ParamHasExecAsync
	ParamHasSoftpin
	ParamHasRelaxedFencing
	ParamHas48BitAddress
)

// TimestampRegister is the render ring timestamp, used to probe register read support
const TimestampRegister uint32 = 0x2358

type ExecObjectFlags uint32

const (
	// ExecObjectPinned asks the kernel to place the object at exactly ExecObject.Offset
	ExecObjectPinned ExecObjectFlags = 1 << iota
	// ExecObjectAsync disables implicit synchronization against earlier submissions
	ExecObjectAsync
	// ExecObjectSupports48Bit allows the object to be placed above 4GiB
	ExecObjectSupports48Bit
	// ExecObjectWrite marks the object as written by the batch
	ExecObjectWrite
)

// Relocation asks the kernel to patch the address of TargetHandle (plus Delta) into the
// owning object at Offset, unless the target already sits at PresumedOffset
type Relocation struct {
	Offset         uint64
	TargetHandle   Handle
	Delta          uint64
	ReadDomains    Domain
	WriteDomain    Domain
	PresumedOffset uint64
}

type ExecObject struct {
	Handle      Handle
	Relocations []Relocation
	Alignment   uint64
	Offset      uint64
	Flags       ExecObjectFlags
}

type ExecFlags uint32

const (
	// ExecNoReloc tells the kernel presumed offsets are accurate for every object that did not move
	ExecNoReloc ExecFlags = 1 << iota
	// ExecFenceIn asks the kernel to wait on ExecRequest.InFence before running the batch
	ExecFenceIn
	// ExecFenceOut asks the kernel to return a completion fence
	ExecFenceOut
)

// ExecRequest is a single submission. The last object is the batch.
type ExecRequest struct {
	Objects     []ExecObject
	BatchStart  int
	BatchLength int
	Context     ContextID
	Flags       ExecFlags
	InFence     Fence
}

type ExecResult struct {
	// Offsets holds the final address of each object, in request order
	Offsets []uint64
	Fence   Fence
}
