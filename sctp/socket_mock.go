// Code in this file is hand-written in the shape go.uber.org/mock's mockgen
// would generate for the Engine interface, kept in sync by hand since there
// is no real SCTP engine to generate it against.
package sctp

import (
	reflect "reflect"

	pionsctp "github.com/pion/sctp"
	gomock "go.uber.org/mock/gomock"
)

// MockEngine is a mock of the Engine interface.
type MockEngine struct {
	ctrl     *gomock.Controller
	recorder *MockEngineMockRecorder
}

// MockEngineMockRecorder is the mock recorder for MockEngine.
type MockEngineMockRecorder struct {
	mock *MockEngine
}

// NewMockEngine creates a new mock instance.
func NewMockEngine(ctrl *gomock.Controller) *MockEngine {
	mock := &MockEngine{ctrl: ctrl}
	mock.recorder = &MockEngineMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockEngine) EXPECT() *MockEngineMockRecorder {
	return m.recorder
}

// Connect mocks base method.
func (m *MockEngine) Connect() error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Connect")
	ret0, _ := ret[0].(error)
	return ret0
}

// Connect indicates an expected call of Connect.
func (mr *MockEngineMockRecorder) Connect() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Connect", reflect.TypeOf((*MockEngine)(nil).Connect))
}

// SendData mocks base method.
func (m *MockEngine) SendData(streamID uint16, ppid pionsctp.PayloadProtocolIdentifier, ordered bool, policy ReliabilityPolicy, payload []byte) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "SendData", streamID, ppid, ordered, policy, payload)
	ret0, _ := ret[0].(error)
	return ret0
}

// SendData indicates an expected call of SendData.
func (mr *MockEngineMockRecorder) SendData(streamID, ppid, ordered, policy, payload any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "SendData", reflect.TypeOf((*MockEngine)(nil).SendData), streamID, ppid, ordered, policy, payload)
}

// ResetStream mocks base method.
func (m *MockEngine) ResetStream(streamID uint16) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "ResetStream", streamID)
	ret0, _ := ret[0].(error)
	return ret0
}

// ResetStream indicates an expected call of ResetStream.
func (mr *MockEngineMockRecorder) ResetStream(streamID any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ResetStream", reflect.TypeOf((*MockEngine)(nil).ResetStream), streamID)
}

// Close mocks base method.
func (m *MockEngine) Close() error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Close")
	ret0, _ := ret[0].(error)
	return ret0
}

// Close indicates an expected call of Close.
func (mr *MockEngineMockRecorder) Close() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Close", reflect.TypeOf((*MockEngine)(nil).Close))
}

// HandleIncomingPacket mocks base method.
func (m *MockEngine) HandleIncomingPacket(data []byte) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "HandleIncomingPacket", data)
}

// HandleIncomingPacket indicates an expected call of HandleIncomingPacket.
func (mr *MockEngineMockRecorder) HandleIncomingPacket(data any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "HandleIncomingPacket", reflect.TypeOf((*MockEngine)(nil).HandleIncomingPacket), data)
}

// HandleTimeout mocks base method.
func (m *MockEngine) HandleTimeout(id TimerID) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "HandleTimeout", id)
}

// HandleTimeout indicates an expected call of HandleTimeout.
func (mr *MockEngineMockRecorder) HandleTimeout(id any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "HandleTimeout", reflect.TypeOf((*MockEngine)(nil).HandleTimeout), id)
}

var _ Engine = (*MockEngine)(nil)
