package main

import (
	"github.com/blockcar/vehicled/internal/config"
	"github.com/blockcar/vehicled/internal/hal"
	"github.com/blockcar/vehicled/internal/sandbox"
	"github.com/blockcar/vehicled/internal/supervisor"
)

func simulatorConfig(cfg *config.Config) hal.SimulatorConfig {
	hw := cfg.Hardware
	return hal.SimulatorConfig{
		MaxSpeed:      hw.MaxSpeed,
		ServoMaxAngle: hw.ServoMaxAngle,
		GimbalStep:    hw.GimbalStep,
		Battery:       hw.Battery,
		LowBattery:    hw.LowBattery,
		DistanceMM:    hw.DistanceMM,
	}
}

func engineConfig(cfg *config.Config) sandbox.Config {
	ex := cfg.Execution
	return sandbox.Config{
		DefaultTimeout: ex.DefaultTimeout,
		WaitCeiling:    ex.WaitCeiling,
		AbandonGrace:   ex.AbandonGrace,
		MaxSteps:       ex.MaxSteps,
		MaxSourceBytes: ex.MaxSourceBytes,
		MaxOutputLines: ex.MaxOutputLines,
		StopOnFault:    ex.StopsOnFault(),
	}
}

func supervisorConfig(cfg *config.Config) supervisor.Config {
	return supervisor.Config{
		Engine:     engineConfig(cfg),
		MaxTimeout: cfg.Execution.MaxTimeout,
	}
}
