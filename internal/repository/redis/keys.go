package redisrepo

import "fmt"

const ns = "cinego:v1"

func KeyMovie(ref string) string {
	return fmt.Sprintf("%s:movie:%s", ns, ref)
}

func KeyScreen(screenID string) string {
	return fmt.Sprintf("%s:screen:%s", ns, screenID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func KeyIdemBooking(userID, idemKey string) string {
	return fmt.Sprintf("%s:idem:bookings:%s:%s", ns, userID, idemKey)
}

func ChannelShowtimesChanged() string {
	return ns + ":showtimes:changed"
}
