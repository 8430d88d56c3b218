package onramp

// CreateSessionRequest is the inbound payload for session creation. Unknown
// shapes are rejected at the boundary by binding validation instead of being
// trusted at use-site.
type CreateSessionRequest struct {
	TransactionDetails  TransactionDetails  `json:"transaction_details" binding:"required"`
	CustomerInformation CustomerInformation `json:"customer_information" binding:"required"`
}

// TransactionDetails describes the fiat to crypto conversion the buyer wants
type TransactionDetails struct {
	DestinationCurrency       string `json:"destination_currency" binding:"required"`
	DestinationExchangeAmount string `json:"destination_exchange_amount" binding:"required"`
	DestinationNetwork        string `json:"destination_network" binding:"required"`
	WalletAddress             string `json:"wallet_address" binding:"required"`
}

// CustomerInformation carries the KYC fields the processor requires
type CustomerInformation struct {
	Email     string      `json:"email" binding:"required,email"`
	FirstName string      `json:"first_name" binding:"required"`
	LastName  string      `json:"last_name" binding:"required"`
	DOB       DateOfBirth `json:"dob" binding:"required"`
}

// DateOfBirth as the processor expects it
type DateOfBirth struct {
	Day   int `json:"day" binding:"required,min=1,max=31"`
	Month int `json:"month" binding:"required,min=1,max=12"`
	Year  int `json:"year" binding:"required,min=1900"`
}

// PurchaseIntent is the validated, immutable view of a session request. It is
// not persisted beyond the request lifecycle.
type PurchaseIntent struct {
	DestinationCurrency       string
	DestinationExchangeAmount string
	DestinationNetwork        string
	WalletAddress             string
	BuyerEmail                string
	BuyerFirstName            string
	BuyerLastName             string
	BuyerDOB                  DateOfBirth
}

// PaymentSession is returned to the frontend, which owns it for the duration
// of the payment UI flow.
type PaymentSession struct {
	ClientSecret string `json:"clientSecret"`
	SessionID    string `json:"sessionId"`
}

// IntentFromRequest builds the immutable purchase intent from a validated
// request body.
func IntentFromRequest(req *CreateSessionRequest) *PurchaseIntent {
	return &PurchaseIntent{
		DestinationCurrency:       req.TransactionDetails.DestinationCurrency,
		DestinationExchangeAmount: req.TransactionDetails.DestinationExchangeAmount,
		DestinationNetwork:        req.TransactionDetails.DestinationNetwork,
		WalletAddress:             req.TransactionDetails.WalletAddress,
		BuyerEmail:                req.CustomerInformation.Email,
		BuyerFirstName:            req.CustomerInformation.FirstName,
		BuyerLastName:             req.CustomerInformation.LastName,
		BuyerDOB:                  req.CustomerInformation.DOB,
	}
}
