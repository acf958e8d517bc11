package mocks

import (
	"github.com/vkngwrapper/bufmgr/kernel"
	"go.uber.org/mock/gomock"
)

// EasyMockKernel returns a MockKernel that already answers capability probes: every param
// reports absent except the chipset generation, and the aperture has the provided size.
func EasyMockKernel(ctrl *gomock.Controller, gen int, aperture uint64) *MockKernel {
	k := NewMockKernel(ctrl)
	k.EXPECT().GetParam(kernel.ParamChipsetGen).Return(gen, nil).AnyTimes()
	k.EXPECT().GetParam(gomock.Any()).Return(0, kernel.EINVAL).AnyTimes()
	k.EXPECT().GetAperture().Return(aperture, nil).AnyTimes()
	k.EXPECT().ReadRegister(gomock.Any()).Return(uint64(0), kernel.EINVAL).AnyTimes()

	return k
}
