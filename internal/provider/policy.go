package provider

// Delivery flags sent with every SMS. They are fixed for the whole system.
const (
	priority               = 0
	maxSegments            = 0
	ignoreUnsubscribeCheck = false
	allowDuplicates        = false
	shortenURLEnable       = false
	trackPurchaseTData     = false
)

const (
	DefaultSender       = "FlightInfo"
	DefaultCampaignName = "Flight Update"
)

// Policy holds the per-deployment labels of the SMS settings. Both entry
// points share one value built at startup.
type Policy struct {
	sender       string
	campaignName string
}

// NewPolicy returns the system policy with the given sender and campaign
// labels, falling back to the defaults when empty.
func NewPolicy(sender, campaign string) Policy {
	if sender == "" {
		sender = DefaultSender
	}
	if campaign == "" {
		campaign = DefaultCampaignName
	}
	return Policy{sender: sender, campaignName: campaign}
}

// Request renders the provider payload for one recipient. An empty sender
// uses the policy sender.
func (p Policy) Request(phone, message, sender string) Request {
	if sender == "" {
		sender = p.sender
	}
	return Request{
		Data: RequestData{
			Message:    message,
			Recipients: []Recipient{{Phone: phone}},
			Settings: Settings{
				Sender:                 sender,
				CampaignName:           p.campaignName,
				Priority:               priority,
				MaxSegments:            maxSegments,
				IgnoreUnsubscribeCheck: ignoreUnsubscribeCheck,
				AllowDuplicates:        allowDuplicates,
				ShortenUrlEnable:       shortenURLEnable,
				TrackPurchaseTData:     trackPurchaseTData,
			},
		},
	}
}
