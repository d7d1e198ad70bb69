package script

import (
	"fmt"
	"time"

	"github.com/aarzilli/golua/lua"

	"github.com/srg/blemux/internal/manager"
	"github.com/srg/blemux/internal/profile/bpmonitor"
	"github.com/srg/blemux/internal/profile/glucometer"
	"github.com/srg/blemux/internal/profile/oximeter"
	"github.com/srg/blemux/internal/profile/scale"
	"github.com/srg/blemux/internal/profile/tracker"
)

// The vendor subtables mirror the family clients: one named function
// per command, a streaming function taking a callback. Commands follow
// the shared convention of (true, nil) or (nil, message).

func parseGender(s string) (scale.Gender, error) {
	switch s {
	case "male", "m":
		return scale.GenderMale, nil
	case "female", "f":
		return scale.GenderFemale, nil
	default:
		return 0, fmt.Errorf("unknown gender %q, want male or female", s)
	}
}

func parseScaleUnit(s string) (scale.Unit, error) {
	switch s {
	case "metric", "kg":
		return scale.UnitMetric, nil
	case "imperial", "lb":
		return scale.UnitImperial, nil
	default:
		return 0, fmt.Errorf("unknown unit %q, want metric or imperial", s)
	}
}

func parseTrackerUnit(s string) (tracker.Unit, error) {
	switch s {
	case "metric", "km":
		return tracker.UnitMetric, nil
	case "us", "mi":
		return tracker.UnitUS, nil
	default:
		return 0, fmt.Errorf("unknown unit %q, want metric or us", s)
	}
}

// cmdResult pushes the shared (true, nil) / (nil, message) pair for a
// command-style operation.
func cmdResult(L *lua.State, err error) int {
	if err != nil {
		L.PushNil()
		L.PushString(err.Error())
		return 2
	}
	L.PushBoolean(true)
	L.PushNil()
	return 2
}

func (a *API) registerScale(L *lua.State) {
	L.PushString("scale")
	L.NewTable()

	a.reg(L, "blemux.scale.set_user", func(L *lua.State) int {
		if !L.IsString(1) || !L.IsString(2) || !L.IsNumber(3) || !L.IsNumber(4) || !L.IsString(5) {
			L.RaiseError("scale.set_user(device_id, user, age, height_cm, gender) expects (string, string, number, number, string)")
			return 0
		}
		g, err := parseGender(L.ToString(5))
		if err != nil {
			L.RaiseError("scale.set_user: " + err.Error())
			return 0
		}
		ctx, cancel := a.opContext(defaultOpTimeout)
		defer cancel()
		c := scale.NewClient(a.mgr, L.ToString(1))
		return cmdResult(L, c.SetUserProfile(ctx, L.ToString(2), L.ToInteger(3), L.ToInteger(4), g))
	})

	a.reg(L, "blemux.scale.select_user", func(L *lua.State) int {
		if !L.IsString(1) || !L.IsString(2) {
			L.RaiseError("scale.select_user(device_id, user [, unit]) expects (string, string)")
			return 0
		}
		unit := scale.UnitMetric
		if L.GetTop() >= 3 && L.IsString(3) {
			u, err := parseScaleUnit(L.ToString(3))
			if err != nil {
				L.RaiseError("scale.select_user: " + err.Error())
				return 0
			}
			unit = u
		}
		ctx, cancel := a.opContext(defaultOpTimeout)
		defer cancel()
		c := scale.NewClient(a.mgr, L.ToString(1))
		return cmdResult(L, c.SelectUserProfile(ctx, L.ToString(2), unit))
	})

	a.reg(L, "blemux.scale.reset", func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError("scale.reset(device_id) expects a device id")
			return 0
		}
		ctx, cancel := a.opContext(defaultOpTimeout)
		defer cancel()
		return cmdResult(L, scale.NewClient(a.mgr, L.ToString(1)).Reset(ctx))
	})

	a.reg(L, "blemux.scale.measurements", func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError("scale.measurements(device_id, callback) expects a device id")
			return 0
		}
		if !L.IsFunction(2) {
			L.RaiseError("scale.measurements(device_id, callback) expects a callback function")
			return 0
		}
		c := scale.NewClient(a.mgr, L.ToString(1))
		return a.startStream(L, "scale.measurements", 2, func(ref int) (*manager.Subscription, error) {
			return c.Stream(func(err error, m *scale.Measurement) {
				if err != nil {
					a.enqueueError(ref, "scale.measurements", err)
					return
				}
				v := *m
				a.engine.EnqueueCall("scale.measurements", ref, func(L *lua.State) int {
					L.NewTable()
					setNum(L, "weight_kg", v.WeightKG)
					setInt(L, "impedance_ohm", int64(v.ImpedanceOhm))
					setBool(L, "stable", v.Stable)
					L.PushNil()
					return 2
				})
			})
		})
	})

	L.SetTable(-3)
}

func (a *API) registerTracker(L *lua.State) {
	L.PushString("tracker")
	L.NewTable()

	a.reg(L, "blemux.tracker.set_time", func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError("tracker.set_time(device_id) expects a device id")
			return 0
		}
		ctx, cancel := a.opContext(defaultOpTimeout)
		defer cancel()
		return cmdResult(L, tracker.NewClient(a.mgr, L.ToString(1)).SetDeviceTime(ctx, time.Now()))
	})

	a.reg(L, "blemux.tracker.vibrate", func(L *lua.State) int {
		if !L.IsString(1) || !L.IsNumber(2) {
			L.RaiseError("tracker.vibrate(device_id, seconds) expects a device id and a number")
			return 0
		}
		secs := L.ToInteger(2)
		if secs < 0 {
			L.RaiseError("tracker.vibrate(device_id, seconds) expects a non-negative number")
			return 0
		}
		ctx, cancel := a.opContext(defaultOpTimeout)
		defer cancel()
		return cmdResult(L, tracker.NewClient(a.mgr, L.ToString(1)).ActivateVibration(ctx, secs))
	})

	a.reg(L, "blemux.tracker.set_unit", func(L *lua.State) int {
		if !L.IsString(1) || !L.IsString(2) {
			L.RaiseError("tracker.set_unit(device_id, unit) expects a device id and a unit")
			return 0
		}
		u, err := parseTrackerUnit(L.ToString(2))
		if err != nil {
			L.RaiseError("tracker.set_unit: " + err.Error())
			return 0
		}
		ctx, cancel := a.opContext(defaultOpTimeout)
		defer cancel()
		return cmdResult(L, tracker.NewClient(a.mgr, L.ToString(1)).SetDistanceUnit(ctx, u))
	})

	a.reg(L, "blemux.tracker.day_activity", func(L *lua.State) int {
		if !L.IsString(1) || !L.IsNumber(2) || !L.IsNumber(3) || !L.IsNumber(4) {
			L.RaiseError("tracker.day_activity(device_id, year, month, day [, detailed]) expects (string, number, number, number)")
			return 0
		}
		year, month, day := L.ToInteger(2), L.ToInteger(3), L.ToInteger(4)
		if month < 1 || month > 12 || day < 1 || day > 31 {
			L.RaiseError("tracker.day_activity: month must be 1..12 and day 1..31")
			return 0
		}
		detailed := L.GetTop() >= 5 && L.IsBoolean(5) && L.ToBoolean(5)
		date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local)
		ctx, cancel := a.opContext(defaultOpTimeout)
		defer cancel()
		return cmdResult(L, tracker.NewClient(a.mgr, L.ToString(1)).RequestDayActivity(ctx, date, detailed))
	})

	a.reg(L, "blemux.tracker.events", func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError("tracker.events(device_id, callback) expects a device id")
			return 0
		}
		if !L.IsFunction(2) {
			L.RaiseError("tracker.events(device_id, callback) expects a callback function")
			return 0
		}
		c := tracker.NewClient(a.mgr, L.ToString(1))
		return a.startStream(L, "tracker.events", 2, func(ref int) (*manager.Subscription, error) {
			return c.Stream(func(err error, ev *tracker.Event) {
				if err != nil {
					a.enqueueError(ref, "tracker.events", err)
					return
				}
				v := *ev
				a.engine.EnqueueCall("tracker.events", ref, func(L *lua.State) int {
					L.NewTable()
					switch v.Kind {
					case tracker.EventAck:
						setStr(L, "kind", "ack")
						setInt(L, "opcode", int64(v.Ack.Opcode))
						setBool(L, "ok", v.Ack.OK)
					case tracker.EventDayActivity:
						setStr(L, "kind", "day")
						setInt(L, "year", int64(v.Day.Year))
						setInt(L, "month", int64(v.Day.Month))
						setInt(L, "day", int64(v.Day.Day))
						setInt(L, "steps", int64(v.Day.Steps))
						setInt(L, "distance_m", int64(v.Day.DistanceM))
						setInt(L, "calories", int64(v.Day.Calories))
					}
					L.PushNil()
					return 2
				})
			})
		})
	})

	L.SetTable(-3)
}

func (a *API) registerBPMonitor(L *lua.State) {
	L.PushString("bpm")
	L.NewTable()

	simple := []struct {
		path string
		run  func(c *bpmonitor.Client) error
	}{
		{"blemux.bpm.fetch_mode", func(c *bpmonitor.Client) error {
			ctx, cancel := a.opContext(defaultOpTimeout)
			defer cancel()
			return c.FetchMode(ctx)
		}},
		{"blemux.bpm.fetch_history", func(c *bpmonitor.Client) error {
			ctx, cancel := a.opContext(defaultOpTimeout)
			defer cancel()
			return c.FetchHistory(ctx)
		}},
		{"blemux.bpm.voice_toggle", func(c *bpmonitor.Client) error {
			ctx, cancel := a.opContext(defaultOpTimeout)
			defer cancel()
			return c.VoiceToggle(ctx)
		}},
		{"blemux.bpm.start_test", func(c *bpmonitor.Client) error {
			ctx, cancel := a.opContext(defaultOpTimeout)
			defer cancel()
			return c.StartTest(ctx)
		}},
		{"blemux.bpm.set_time", func(c *bpmonitor.Client) error {
			ctx, cancel := a.opContext(defaultOpTimeout)
			defer cancel()
			return c.SetDeviceTime(ctx, time.Now())
		}},
	}
	for _, op := range simple {
		run := op.run
		a.reg(L, op.path, func(L *lua.State) int {
			if !L.IsString(1) {
				L.RaiseError("bpm operations expect a device id")
				return 0
			}
			return cmdResult(L, run(bpmonitor.NewClient(a.mgr, L.ToString(1))))
		})
	}

	a.reg(L, "blemux.bpm.readings", func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError("bpm.readings(device_id, callback) expects a device id")
			return 0
		}
		if !L.IsFunction(2) {
			L.RaiseError("bpm.readings(device_id, callback) expects a callback function")
			return 0
		}
		c := bpmonitor.NewClient(a.mgr, L.ToString(1))
		return a.startStream(L, "bpm.readings", 2, func(ref int) (*manager.Subscription, error) {
			return c.Stream(func(err error, ev *bpmonitor.Event) {
				if err != nil {
					a.enqueueError(ref, "bpm.readings", err)
					return
				}
				v := *ev
				a.engine.EnqueueCall("bpm.readings", ref, func(L *lua.State) int {
					L.NewTable()
					switch v.Kind {
					case bpmonitor.EventReading:
						setStr(L, "kind", "reading")
						setInt(L, "systolic", int64(v.Reading.Systolic))
						setInt(L, "diastolic", int64(v.Reading.Diastolic))
						setInt(L, "pulse", int64(v.Reading.Pulse))
					case bpmonitor.EventCuffPressure:
						setStr(L, "kind", "pressure")
						setInt(L, "pressure", int64(v.Pressure))
					}
					L.PushNil()
					return 2
				})
			})
		})
	})

	L.SetTable(-3)
}

func (a *API) registerGlucometer(L *lua.State) {
	L.PushString("glucose")
	L.NewTable()

	a.reg(L, "blemux.glucose.set_time", func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError("glucose.set_time(device_id) expects a device id")
			return 0
		}
		ctx, cancel := a.opContext(defaultOpTimeout)
		defer cancel()
		return cmdResult(L, glucometer.NewClient(a.mgr, L.ToString(1)).SetTime(ctx))
	})

	a.reg(L, "blemux.glucose.fetch_additional", func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError("glucose.fetch_additional(device_id) expects a device id")
			return 0
		}
		ctx, cancel := a.opContext(defaultOpTimeout)
		defer cancel()
		return cmdResult(L, glucometer.NewClient(a.mgr, L.ToString(1)).FetchAdditionalRecord(ctx))
	})

	a.reg(L, "blemux.glucose.records", func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError("glucose.records(device_id, callback) expects a device id")
			return 0
		}
		if !L.IsFunction(2) {
			L.RaiseError("glucose.records(device_id, callback) expects a callback function")
			return 0
		}
		c := glucometer.NewClient(a.mgr, L.ToString(1))
		return a.startStream(L, "glucose.records", 2, func(ref int) (*manager.Subscription, error) {
			return c.Stream(func(err error, r *glucometer.Record) {
				if err != nil {
					a.enqueueError(ref, "glucose.records", err)
					return
				}
				v := *r
				a.engine.EnqueueCall("glucose.records", ref, func(L *lua.State) int {
					L.NewTable()
					setInt(L, "sequence", int64(v.Sequence))
					setNum(L, "mmol_l", v.MmolL)
					setStr(L, "taken", v.Taken.Format(time.RFC3339))
					L.PushNil()
					return 2
				})
			})
		})
	})

	L.SetTable(-3)
}

func (a *API) registerOximeter(L *lua.State) {
	L.PushString("oximeter")
	L.NewTable()

	a.reg(L, "blemux.oximeter.stream", func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError("oximeter.stream(device_id, callback) expects a device id")
			return 0
		}
		if !L.IsFunction(2) {
			L.RaiseError("oximeter.stream(device_id, callback) expects a callback function")
			return 0
		}
		c := oximeter.NewClient(a.mgr, L.ToString(1))
		return a.startStream(L, "oximeter.stream", 2, func(ref int) (*manager.Subscription, error) {
			return c.Stream(func(err error, s *oximeter.Sample) {
				if err != nil {
					a.enqueueError(ref, "oximeter.stream", err)
					return
				}
				v := *s
				a.engine.EnqueueCall("oximeter.stream", ref, func(L *lua.State) int {
					L.NewTable()
					setInt(L, "spo2", int64(v.SpO2))
					setInt(L, "pulse_rate", int64(v.PulseRate))
					setInt(L, "pleth", int64(v.Pleth))
					setInt(L, "signal", int64(v.Signal))
					setBool(L, "finger_out", v.FingerOut)
					setBool(L, "searching", v.Searching)
					L.PushNil()
					return 2
				})
			})
		})
	})

	L.SetTable(-3)
}
