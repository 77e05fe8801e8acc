// Package mocks provides mock implementations for testing the pipeline services.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for
// the bus contracts. The mocks are generated using go:generate directives.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	pub := mocks.NewMockPublisher(ctrl)
//	pub.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
package mocks

// Generate mock for the Publisher interface from internal/bus.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=publisher_mock.go github.com/jobsift/pipeline-api/internal/bus Publisher

// Generate mock for the Consumer interface from internal/bus.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=consumer_mock.go github.com/jobsift/pipeline-api/internal/bus Consumer
