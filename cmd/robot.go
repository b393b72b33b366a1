package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"homerobot/config"
	"homerobot/log"
	"homerobot/services"
	"homerobot/transport"
)

func newRobotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "robot",
		Short: "drive the robot from waypoints sent by the controller",
		Long: `robot runs the robot side of the link. Poses come from the AR tracker
over UDP and motor commands go to the motor board over a serial port.
With --simulate a kinematic simulator stands in for both. With --bridge the
robot only executes motor commands and the controller runs the waypoint loop
(controller --drive).`,
		RunE: runRobot,
	}
	f := cmd.Flags()
	f.Bool("simulate", false, "drive a simulated robot instead of the hardware")
	f.Bool("bridge", false, "only execute motor commands from the controller")
	f.String("serial-port", "", "serial device of the motor board")
	f.Int("baud-rate", 115200, "serial baud rate")
	f.String("pose-listen", "127.0.0.1:9870", "UDP address receiving tracker poses")
	f.Bool("list-ports", false, "list serial ports and exit")
	bindFlags(f, map[string]string{
		"simulate":    "robot.simulate",
		"bridge":      "robot.bridge",
		"serial-port": "robot.serial-port",
		"baud-rate":   "robot.baud-rate",
		"pose-listen": "robot.pose-listen",
	})
	return cmd
}

func runRobot(cmd *cobra.Command, _ []string) error {
	if list, _ := cmd.Flags().GetBool("list-ports"); list {
		ports, err := services.ListSerialPorts()
		if err != nil {
			return err
		}
		for _, p := range ports {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	}

	ctx := cmd.Context()
	logger := log.Named("robot")
	r := cfg.Robot

	var (
		pose  services.PoseSource
		motor services.MotorSink
	)
	if r.Simulate {
		simCfg := services.DefaultSimulatorConfig()
		simCfg.MaxWheelSpeed = r.MaxWheelSpeed
		simCfg.TrackWidth = r.TrackWidth
		simCfg.MapID = r.MapID
		sim := services.NewSimulator(simCfg)
		go sim.Run(ctx)
		pose, motor = sim, sim
		logger.Info("simulating robot", zap.String("map", r.MapID))
	} else {
		if r.SerialPort == "" {
			return errors.New("robot.serial-port is required without --simulate")
		}
		serialMotor, err := services.OpenSerialMotor(r.SerialPort, r.BaudRate)
		if err != nil {
			return err
		}
		defer serialMotor.Close()

		store := services.NewPoseStore(services.WithPoseMaxAge(r.PoseMaxAge))
		feed, err := services.ListenPoseFeed(r.PoseListen, store)
		if err != nil {
			return err
		}
		defer feed.Close()
		go func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("pose feed stopped", zap.Error(err))
			}
		}()
		pose, motor = store, serialMotor
		logger.Info("driving hardware",
			zap.String("serial_port", r.SerialPort), zap.Stringer("pose_feed", feed.Addr()))
	}

	id := peerID("robot")
	ch, err := openChannel(ctx, id, transport.RoleOfferer)
	if err != nil {
		return err
	}
	defer ch.Close()

	role := services.WithLocalRobot(motor,
		services.WithDriveParams(cfg.Control.Drive),
		services.WithControlInterval(config.Interval(cfg.Control.Rate)),
	)
	if r.Bridge {
		role = services.WithMotorBridge(motor)
	}
	session := services.NewSession(ch, pose, sessionOptions(
		role,
		services.OnMap(func(blob []byte) {
			logger.Info("map received", zap.Int("bytes", len(blob)))
		}),
		services.OnControllerFault(func(err error) {
			logger.Error("driving halted, waiting for reset", zap.Error(err))
		}),
		services.OnMissionCompleted(func() {
			logger.Info("mission completed")
		}),
	)...)

	logger.Info("robot session starting",
		zap.String("peer_id", id), zap.String("transport", cfg.Transport.Kind), zap.String("room", cfg.Transport.Room),
		zap.Bool("bridge", r.Bridge))
	if session.Controller() != nil {
		go logStatus(ctx, session, logger)
	}
	return session.Run(ctx)
}

func logStatus(ctx context.Context, session *services.Session, logger *zap.Logger) {
	statusEvery := time.NewTicker(10 * time.Second)
	defer statusEvery.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-statusEvery.C:
			st := session.Controller().Status()
			logger.Info("status",
				zap.String("state", string(st.State)),
				zap.Int("pending", st.Pending),
				zap.Bool("synced", session.Synced()))
		}
	}
}
