package dns

import (
	"math"
	"net"
)

// region is a coarse geographic anchor used to order DNS answers by
// approximate proximity to the querying client. No GeoIP client is
// wired in (see DESIGN.md), so lookup is a small embedded table keyed
// by the IPv4 first octet rather than a real geolocation service; it is
// good enough to express a consistent preference order among
// candidates.
type region struct {
	octetLow, octetHigh byte
	lat, lon            float64
}

// regions is intentionally coarse: a handful of anchors spread across
// continents so that addresses in the same octet bucket sort near each
// other and addresses in distant buckets sort apart.
var regions = []region{
	{0, 24, 37.77, -122.42},    // US West
	{24, 48, 40.71, -74.01},    // US East
	{48, 72, 51.51, -0.13},     // Europe West
	{72, 96, 52.52, 13.40},     // Europe Central
	{96, 120, 1.35, 103.82},    // Asia SE
	{120, 144, 35.68, 139.69},  // Asia East
	{144, 168, -23.55, -46.63}, // South America
	{168, 192, -33.87, 151.21}, // Oceania
	{192, 224, 28.61, 77.21},   // Asia South
	{224, 256, 30.04, 31.24},   // Africa North
}

func approxCoords(ip net.IP) (lat, lon float64) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, 0
	}
	octet := v4[0]
	for _, r := range regions {
		if octet >= r.octetLow && octet < r.octetHigh {
			return r.lat, r.lon
		}
	}
	return 0, 0
}

const earthRadiusKM = 6371.0

// haversineKM returns the great-circle distance in kilometers between
// two lat/lon points.
func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKM * c
}

// distanceFromClient returns the approximate distance in kilometers
// between clientIP and the host portion of addr ("host:port" or bare
// host). Unparseable hosts sort last (treated as maximally distant).
func distanceFromClient(clientIP net.IP, addr string) float64 {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return math.MaxFloat64
	}
	clat, clon := approxCoords(clientIP)
	alat, alon := approxCoords(ip)
	return haversineKM(clat, clon, alat, alon)
}
