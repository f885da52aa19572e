package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/zk-keyservice/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockBlobStore implements interfaces.BlobStore for testing
type MockBlobStore struct {
	mock.Mock
	name string
}

func (m *MockBlobStore) Get(ctx context.Context, key interfaces.BlobKey) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBlobStore) Put(ctx context.Context, key interfaces.BlobKey, data []byte) error {
	args := m.Called(ctx, key, data)
	return args.Error(0)
}

func (m *MockBlobStore) Delete(ctx context.Context, key interfaces.BlobKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockBlobStore) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockBlobStore) Name() string {
	return m.name
}

func (m *MockBlobStore) LocationURI() string {
	return "mock:" + m.name
}

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestMultiStorageBackend_Available(t *testing.T) {
	tests := []struct {
		name     string
		backends []bool
		expected bool
	}{
		{name: "all backends available", backends: []bool{true, true, true}, expected: true},
		{name: "some backends available", backends: []bool{false, true, false}, expected: true},
		{name: "no backends available", backends: []bool{false, false, false}, expected: false},
		{name: "no backends", backends: []bool{}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var backends []interfaces.BlobStore
			for i, available := range tt.backends {
				mockStore := &MockBlobStore{name: fmt.Sprintf("mock-%d", i)}
				mockStore.On("Available", mock.Anything).Return(available).Maybe()
				backends = append(backends, mockStore)
			}

			multi := NewMultiStorageBackend(backends, testLogger)
			assert.Equal(t, tt.expected, multi.Available(context.Background()))

			for _, backend := range backends {
				backend.(*MockBlobStore).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_Get(t *testing.T) {
	testKey := interfaces.BlobKey("keyrings/alice")
	testData := []byte("sealed keyring")
	testErr := errors.New("connection reset")

	tests := []struct {
		name          string
		setupMocks    func() []interfaces.BlobStore
		expectedData  []byte
		expectedError error
	}{
		{
			name: "first backend successful",
			setupMocks: func() []interfaces.BlobStore {
				mock1 := &MockBlobStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Get", mock.Anything, testKey).Return(testData, nil)

				// Not consulted once the first one succeeds.
				mock2 := &MockBlobStore{name: "mock-B"}

				return []interfaces.BlobStore{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "first backend fails, second succeeds",
			setupMocks: func() []interfaces.BlobStore {
				mock1 := &MockBlobStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Get", mock.Anything, testKey).Return(nil, testErr)

				mock2 := &MockBlobStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Get", mock.Anything, testKey).Return(testData, nil)

				return []interfaces.BlobStore{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "missing everywhere is not found",
			setupMocks: func() []interfaces.BlobStore {
				mock1 := &MockBlobStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Get", mock.Anything, testKey).Return(nil, interfaces.ErrContentNotFound)

				mock2 := &MockBlobStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(false)

				return []interfaces.BlobStore{mock1, mock2}
			},
			expectedError: interfaces.ErrContentNotFound,
		},
		{
			name: "missing in one, failing in another is unavailable",
			setupMocks: func() []interfaces.BlobStore {
				mock1 := &MockBlobStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Get", mock.Anything, testKey).Return(nil, interfaces.ErrContentNotFound)

				mock2 := &MockBlobStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Get", mock.Anything, testKey).Return(nil, testErr)

				return []interfaces.BlobStore{mock1, mock2}
			},
			expectedError: interfaces.ErrBackendUnavailable,
		},
		{
			name: "unavailable backends are skipped",
			setupMocks: func() []interfaces.BlobStore {
				mock1 := &MockBlobStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(false)

				mock2 := &MockBlobStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Get", mock.Anything, testKey).Return(testData, nil)

				return []interfaces.BlobStore{mock1, mock2}
			},
			expectedData: testData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backends := tt.setupMocks()
			multi := NewMultiStorageBackend(backends, testLogger)

			data, err := multi.Get(context.Background(), testKey)

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expectedData, data)

			for _, backend := range backends {
				backend.(*MockBlobStore).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_PutDelete(t *testing.T) {
	testKey := interfaces.BlobKey("keyrings/alice")
	testData := []byte("sealed keyring")
	testErr := errors.New("access denied")

	tests := []struct {
		name          string
		results       []error
		available     []bool
		expectedError bool
	}{
		{name: "all backends successful", results: []error{nil, nil}, available: []bool{true, true}},
		{name: "some backends fail", results: []error{nil, testErr}, available: []bool{true, true}},
		{name: "all backends fail", results: []error{testErr, testErr}, available: []bool{true, true}, expectedError: true},
		{name: "unavailable backends are skipped", results: []error{nil, nil}, available: []bool{false, true}},
		{name: "nothing available", results: []error{nil, nil}, available: []bool{false, false}, expectedError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var backends []interfaces.BlobStore
			for i := range tt.results {
				m := &MockBlobStore{name: fmt.Sprintf("mock-%d", i)}
				m.On("Available", mock.Anything).Return(tt.available[i])
				if tt.available[i] {
					m.On("Put", mock.Anything, testKey, testData).Return(tt.results[i])
					m.On("Delete", mock.Anything, testKey).Return(tt.results[i])
				}
				backends = append(backends, m)
			}

			multi := NewMultiStorageBackend(backends, testLogger)

			putErr := multi.Put(context.Background(), testKey, testData)
			deleteErr := multi.Delete(context.Background(), testKey)
			if tt.expectedError {
				assert.ErrorIs(t, putErr, interfaces.ErrBackendUnavailable)
				assert.ErrorIs(t, deleteErr, interfaces.ErrBackendUnavailable)
			} else {
				assert.NoError(t, putErr)
				assert.NoError(t, deleteErr)
			}

			for _, backend := range backends {
				backend.(*MockBlobStore).AssertExpectations(t)
			}
		})
	}
}
