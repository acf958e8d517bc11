package bufmgr

import (
	"github.com/vkngwrapper/bufmgr/kernel"
	"golang.org/x/exp/slog"
)

// defaultGen is assumed when the chipset generation cannot be probed. Gen 4 and later use the
// flexible tiling rules.
const defaultGen int = 4

// Capabilities lists the optional kernel and hardware features a manager detected at creation.
// A feature whose probe failed is reported as absent.
type Capabilities struct {
	Gen int

	HasLLC            bool
	HasWCMmap         bool
	HasWCDomain       bool
	HasExecAsync      bool
	HasSoftpin        bool
	HasRelaxedFencing bool
	Has48BitAddress   bool
	HasRegisterRead   bool
}

func probeParam(logger *slog.Logger, k kernel.Kernel, param kernel.Param, name string) bool {
	value, err := k.GetParam(param)
	if err != nil {
		logger.Debug("Manager::New capability probe failed, treating the feature as absent",
			slog.String("param", name),
			slog.Any("error", err),
		)
		return false
	}

	return value != 0
}

func probeCapabilities(logger *slog.Logger, k kernel.Kernel) Capabilities {
	caps := Capabilities{Gen: defaultGen}

	gen, err := k.GetParam(kernel.ParamChipsetGen)
	if err == nil && gen > 0 {
		caps.Gen = gen
	} else {
		logger.Debug("Manager::New could not probe the chipset generation",
			slog.Int("assumedGen", defaultGen),
			slog.Any("error", err),
		)
	}

	caps.HasLLC = probeParam(logger, k, kernel.ParamHasLLC, "HasLLC")
	caps.HasWCMmap = probeParam(logger, k, kernel.ParamHasWCMmap, "HasWCMmap")
	caps.HasWCDomain = caps.HasWCMmap && probeParam(logger, k, kernel.ParamHasWCDomain, "HasWCDomain")
	caps.HasExecAsync = probeParam(logger, k, kernel.ParamHasExecAsync, "HasExecAsync")
	caps.HasSoftpin = probeParam(logger, k, kernel.ParamHasSoftpin, "HasSoftpin")
	caps.HasRelaxedFencing = probeParam(logger, k, kernel.ParamHasRelaxedFencing, "HasRelaxedFencing")
	caps.Has48BitAddress = probeParam(logger, k, kernel.ParamHas48BitAddress, "Has48BitAddress")

	_, err = k.ReadRegister(kernel.TimestampRegister)
	caps.HasRegisterRead = err == nil

	return caps
}
