package services

import (
	"net/url"
	"strings"
)

type carrier struct {
	name        string
	aliases     []string
	trackingURL string
}

var carriers = []carrier{
	{name: "USPS", aliases: []string{"usps", "unitedstatespostalservice"}, trackingURL: "https://tools.usps.com/go/TrackConfirmAction?tLabels="},
	{name: "FedEx", aliases: []string{"fedex", "federalexpress"}, trackingURL: "https://www.fedex.com/fedextrack/?trknbr="},
	{name: "UPS", aliases: []string{"ups", "unitedparcelservice"}, trackingURL: "https://www.ups.com/track?tracknum="},
	{name: "DHL", aliases: []string{"dhl", "dhlexpress"}, trackingURL: "https://www.dhl.com/global-en/home/tracking.html?tracking-id="},
	{name: "India Post", aliases: []string{"indiapost", "speedpost"}, trackingURL: "https://www.indiapost.gov.in/_layouts/15/dop.portal.tracking/trackconsignment.aspx?consignment="},
	{name: "Delhivery", aliases: []string{"delhivery"}, trackingURL: "https://www.delhivery.com/track/package/"},
	{name: "Blue Dart", aliases: []string{"bluedart"}, trackingURL: "https://www.bluedart.com/tracking?trackFor=0&trackNo="},
}

func lookupCarrier(value string) (carrier, bool) {
	key := strings.NewReplacer(" ", "", "-", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(value)))
	for _, c := range carriers {
		for _, alias := range c.aliases {
			if key == alias {
				return c, true
			}
		}
	}
	return carrier{}, false
}

// NormalizeCarrierName keeps custom carriers untouched and normalizes known ones.
func NormalizeCarrierName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}
	if c, ok := lookupCarrier(trimmed); ok {
		return c.name
	}
	return trimmed
}

// BuildTrackingURL returns a carrier-specific tracking URL. Unknown carriers return empty.
func BuildTrackingURL(carrierName, trackingNumber string) string {
	number := strings.TrimSpace(trackingNumber)
	if number == "" {
		return ""
	}
	c, ok := lookupCarrier(carrierName)
	if !ok {
		return ""
	}
	return c.trackingURL + url.QueryEscape(number)
}

// resolveTracking normalizes shipment details supplied with a status update.
// An explicit tracking URL wins over the derived one.
func resolveTracking(carrierName, trackingNumber, trackingURL string) (string, string, string) {
	carrierName = NormalizeCarrierName(carrierName)
	trackingNumber = strings.TrimSpace(trackingNumber)
	trackingURL = strings.TrimSpace(trackingURL)
	if trackingURL == "" {
		trackingURL = BuildTrackingURL(carrierName, trackingNumber)
	}
	return carrierName, trackingNumber, trackingURL
}
