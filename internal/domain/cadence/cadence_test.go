package cadence_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/chartsnap/internal/domain/cadence"
	. "github.com/smartystreets/goconvey/convey"
)

func TestParse(t *testing.T) {
	Convey("Given wire tokens", t, func() {
		Convey("Known tokens parse regardless of case", func() {
			for token, want := range map[string]cadence.Cadence{
				"realtime": cadence.Realtime,
				"DAILY":    cadence.Daily,
				" Weekly ": cadence.Weekly,
			} {
				got, err := cadence.Parse(token)
				So(err, ShouldBeNil)
				So(got, ShouldEqual, want)
			}
		})

		Convey("Unknown tokens fail with ErrInvalidCadence", func() {
			for _, token := range []string{"", "monthly", "hourly", "real time"} {
				_, err := cadence.Parse(token)
				So(errors.Is(err, cadence.ErrInvalidCadence), ShouldBeTrue)
			}
		})

		Convey("All lists every cadence once", func() {
			So(cadence.All(), ShouldResemble, []cadence.Cadence{cadence.Realtime, cadence.Daily, cadence.Weekly})
			So(cadence.Cadence("yearly").Valid(), ShouldBeFalse)
		})
	})
}

func TestGate(t *testing.T) {
	Convey("Given the default gate", t, func() {
		g := cadence.DefaultGate()
		sundayMidnight := time.Date(2024, 3, 3, 0, 10, 0, 0, time.UTC)
		mondayMidnight := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
		mondayNoon := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

		Convey("Realtime is always due", func() {
			So(g.Due(cadence.Realtime, mondayNoon), ShouldBeTrue)
			So(g.Due(cadence.Realtime, sundayMidnight), ShouldBeTrue)
		})

		Convey("Daily is due only in the reset hour", func() {
			So(g.Due(cadence.Daily, mondayMidnight), ShouldBeTrue)
			So(g.Due(cadence.Daily, mondayMidnight.Add(59*time.Minute)), ShouldBeTrue)
			So(g.Due(cadence.Daily, mondayMidnight.Add(time.Hour)), ShouldBeFalse)
			So(g.Due(cadence.Daily, mondayNoon), ShouldBeFalse)
		})

		Convey("Weekly needs both the weekday and the hour", func() {
			So(g.Due(cadence.Weekly, sundayMidnight), ShouldBeTrue)
			So(g.Due(cadence.Weekly, mondayMidnight), ShouldBeFalse)
			So(g.Due(cadence.Weekly, sundayMidnight.Add(3*time.Hour)), ShouldBeFalse)
		})

		Convey("Unknown cadences are never due", func() {
			So(g.Due(cadence.Cadence("monthly"), mondayMidnight), ShouldBeFalse)
		})

		Convey("WindowStart truncates to the hour", func() {
			So(g.WindowStart(sundayMidnight), ShouldEqual, time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC))
		})
	})

	Convey("Given a gate in another zone", t, func() {
		loc := time.FixedZone("UTC+2", 2*3600)
		g := cadence.Gate{ResetHour: 0, ResetDay: time.Sunday, Location: loc}

		Convey("The hour is evaluated locally", func() {
			// 22:00 UTC Saturday is 00:00 Sunday at UTC+2.
			now := time.Date(2024, 3, 2, 22, 0, 0, 0, time.UTC)
			So(g.Due(cadence.Daily, now), ShouldBeTrue)
			So(g.Due(cadence.Weekly, now), ShouldBeTrue)
			So(g.WindowStart(now).Equal(now), ShouldBeTrue)
		})
	})
}
