// Package certificates contiene los DTOs de emisión de certificados de máquina.
package certificates

import "encoding/json"

// IssueRequest: POST /api/v1/certificates. machineId llega como número JSON.
type IssueRequest struct {
	MachineID         json.Number `json:"machineId"`
	MachineExternalIP string      `json:"machineExternalIp"`
}

type IssueResponse struct {
	SignedCertificate string `json:"signedCertificate"`
	PrivateKey        string `json:"privateKey"`
}
