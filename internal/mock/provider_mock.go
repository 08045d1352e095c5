// Package mock holds hand-written gomock doubles for this module's
// small interfaces, in the shape mockgen would generate one, for
// interfaces where pulling in go/packages-based generation for a
// single two-method interface isn't worth the build-time cost.
package mock

import (
	reflect "reflect"

	gomock "go.uber.org/mock/gomock"

	"github.com/orizon-lang/btalloc/provider"
)

var _ provider.Provider = (*MockProvider)(nil)

// MockProvider is a mock of the provider.Provider interface.
type MockProvider struct {
	ctrl     *gomock.Controller
	recorder *MockProviderMockRecorder
}

// MockProviderMockRecorder is the mock recorder for MockProvider.
type MockProviderMockRecorder struct {
	mock *MockProvider
}

// NewMockProvider creates a new mock instance.
func NewMockProvider(ctrl *gomock.Controller) *MockProvider {
	mock := &MockProvider{ctrl: ctrl}
	mock.recorder = &MockProviderMockRecorder{mock}

	return mock
}

// EXPECT returns an object that allows the caller to indicate expected
// use.
func (m *MockProvider) EXPECT() *MockProviderMockRecorder {
	return m.recorder
}

// Extend mocks base method.
func (m *MockProvider) Extend(delta uintptr) (uintptr, bool) {
	m.ctrl.T.Helper()

	ret := m.ctrl.Call(m, "Extend", delta)
	ret0, _ := ret[0].(uintptr)
	ret1, _ := ret[1].(bool)

	return ret0, ret1
}

// Extend indicates an expected call of Extend.
func (mr *MockProviderMockRecorder) Extend(delta interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Extend",
		reflect.TypeOf((*MockProvider)(nil).Extend), delta)
}

// Base mocks base method.
func (m *MockProvider) Base() uintptr {
	m.ctrl.T.Helper()

	ret := m.ctrl.Call(m, "Base")
	ret0, _ := ret[0].(uintptr)

	return ret0
}

// Base indicates an expected call of Base.
func (mr *MockProviderMockRecorder) Base() *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Base",
		reflect.TypeOf((*MockProvider)(nil).Base))
}
