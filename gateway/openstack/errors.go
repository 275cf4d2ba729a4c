package openstack

import (
	"context"
	"errors"
	"net"

	"github.com/gophercloud/gophercloud"

	"github.com/cloudreap/cloudreap/gateway"
)

// classify maps gophercloud errors onto the gateway taxonomy.
func classify(op, id string, err error) error {
	if err == nil {
		return nil
	}

	var notFound gophercloud.ErrDefault404
	if errors.As(err, &notFound) {
		return &gateway.NotFoundError{ID: id}
	}

	var conflict gophercloud.ErrDefault409
	if errors.As(err, &conflict) {
		return &gateway.InUseError{ID: id}
	}

	var unauthorized gophercloud.ErrDefault401
	if errors.As(err, &unauthorized) {
		return &gateway.AuthError{Err: err}
	}
	var forbidden gophercloud.ErrDefault403
	if errors.As(err, &forbidden) {
		return &gateway.AuthError{Err: err}
	}

	return &gateway.TransientError{Op: op, Err: err}
}

// classifyImageDelete covers the Glance quirk where deleting a protected
// image returns 403 rather than a conflict.
func classifyImageDelete(id string, err error) error {
	if err == nil {
		return nil
	}
	var forbidden gophercloud.ErrDefault403
	if errors.As(err, &forbidden) {
		return &gateway.InUseError{ID: id, Reason: "image is protected"}
	}
	return classify("delete image", id, err)
}

// isTransport reports network-level failures that should be retried rather
// than treated as credential rejections.
func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
