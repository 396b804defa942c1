// Package certificates emite certificados de máquina firmados por la CA.
package certificates

import (
	"context"
	"errors"

	"github.com/dropDatabas3/vdigate/internal/ca"
	dto "github.com/dropDatabas3/vdigate/internal/http/dto/certificates"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
	"github.com/dropDatabas3/vdigate/internal/validation"
)

var (
	ErrInvalidMachineID = errors.New("machineId must be a positive integer")
	ErrInvalidIP        = errors.New("machineExternalIp must be an IP address")
)

// Authority es la parte de ca.Authority que usa el service.
type Authority interface {
	IssueCertificate(ctx context.Context, machineID, externalIP string) (*ca.Issued, error)
}

type Service struct {
	ca Authority
}

func NewService(a Authority) *Service {
	return &Service{ca: a}
}

func (s *Service) Issue(ctx context.Context, in dto.IssueRequest) (*dto.IssueResponse, error) {
	machineID := in.MachineID.String()
	if !validation.ValidMachineID(machineID) {
		return nil, ErrInvalidMachineID
	}
	if !validation.ValidIP(in.MachineExternalIP) {
		return nil, ErrInvalidIP
	}

	issued, err := s.ca.IssueCertificate(ctx, machineID, in.MachineExternalIP)
	if err != nil {
		return nil, err
	}
	logger.From(ctx).Info("machine certificate issued",
		logger.Layer("service"),
		logger.MachineID(machineID),
		logger.String("serial", issued.Serial),
	)
	return &dto.IssueResponse{
		SignedCertificate: string(issued.CertificatePEM),
		PrivateKey:        string(issued.PrivateKeyPEM),
	}, nil
}
