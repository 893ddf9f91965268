package gateway

import "time"

// Wire shapes for gateway calls. Field names follow the exchange's JSON
// contract, which is camelCase throughout.

type Purpose struct {
	Text string `json:"text"`
	Code string `json:"code"`
}

type IDHolder struct {
	ID string `json:"id"`
}

type Requester struct {
	Name       string `json:"name"`
	Identifier struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"identifier"`
}

type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type Frequency struct {
	Unit    string `json:"unit"`
	Value   int    `json:"value"`
	Repeats int    `json:"repeats"`
}

type Permission struct {
	AccessMode  string    `json:"accessMode"`
	DateRange   DateRange `json:"dateRange"`
	DataEraseAt time.Time `json:"dataEraseAt"`
	Frequency   Frequency `json:"frequency"`
}

type CareContext struct {
	PatientReference     string `json:"patientReference"`
	CareContextReference string `json:"careContextReference"`
	Display              string `json:"display,omitempty"`
}

type ConsentRequestInitPayload struct {
	Consent struct {
		Purpose    Purpose    `json:"purpose"`
		Patient    IDHolder   `json:"patient"`
		HIU        IDHolder   `json:"hiu"`
		Requester  Requester  `json:"requester"`
		HITypes    []string   `json:"hiTypes"`
		Permission Permission `json:"permission"`
	} `json:"consent"`
}

type consentStatusPayload struct {
	ConsentRequestID string `json:"consentRequestId"`
}

type consentFetchPayload struct {
	ConsentID string `json:"consentId"`
}

type ConsentAcknowledgement struct {
	Status    string `json:"status"`
	ConsentID string `json:"consentId"`
}

type ResponseRef struct {
	RequestID string `json:"requestId"`
}

type ConsentOnNotifyPayload struct {
	Acknowledgement []ConsentAcknowledgement `json:"acknowledgement"`
	Response        ResponseRef              `json:"response"`
}

// KeyMaterialPayload is the receiver's half of the transfer key agreement.
type KeyMaterialPayload struct {
	CryptoAlg string `json:"cryptoAlg"`
	Curve     string `json:"curve"`
	DHPublicKey struct {
		Expiry     time.Time `json:"expiry"`
		Parameters string    `json:"parameters"`
		KeyValue   string    `json:"keyValue"`
	} `json:"dhPublicKey"`
	Nonce string `json:"nonce"`
}

type HealthInformationRequestPayload struct {
	HIRequest struct {
		Consent     IDHolder           `json:"consent"`
		DateRange   DateRange          `json:"dateRange"`
		DataPushURL string             `json:"dataPushUrl"`
		KeyMaterial KeyMaterialPayload `json:"keyMaterial"`
	} `json:"hiRequest"`
}

type StatusResponse struct {
	CareContextReference string `json:"careContextReference"`
	HIStatus             string `json:"hiStatus"`
	Description          string `json:"description"`
}

type HealthInformationNotifyPayload struct {
	Notification struct {
		ConsentID     string `json:"consentId"`
		TransactionID string `json:"transactionId"`
		DoneAt        string `json:"doneAt"`
		Notifier      struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		} `json:"notifier"`
		StatusNotification struct {
			SessionStatus   string           `json:"sessionStatus"`
			HIPID           string           `json:"hipId"`
			StatusResponses []StatusResponse `json:"statusResponses"`
		} `json:"statusNotification"`
	} `json:"notification"`
}

type GenerateLinkTokenPayload struct {
	ABHAAddress string `json:"abhaAddress"`
	Name        string `json:"name"`
	Gender      string `json:"gender"`
	YearOfBirth int    `json:"yearOfBirth"`
}

type LinkPatient struct {
	ReferenceNumber string        `json:"referenceNumber"`
	Display         string        `json:"display"`
	CareContexts    []CareContext `json:"careContexts"`
	HIType          string        `json:"hiType"`
	Count           int           `json:"count"`
}

type LinkCareContextPayload struct {
	ABHANumber  string        `json:"abhaNumber"`
	ABHAAddress string        `json:"abhaAddress"`
	Patient     []LinkPatient `json:"patient"`
}

type HIPOnRequestPayload struct {
	HIRequest struct {
		TransactionID string `json:"transactionId"`
		SessionStatus string `json:"sessionStatus"`
	} `json:"hiRequest"`
	Response ResponseRef `json:"response"`
}

type RegisterServicePayload struct {
	FacilityID   string   `json:"facilityId"`
	FacilityName string   `json:"facilityName"`
	HRPRoles     []string `json:"hrpRoles"`
}
