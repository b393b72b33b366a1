package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"homerobot/config"
	"homerobot/log"
	"homerobot/models"
	"homerobot/services"
	"homerobot/transport"
)

const syncPoll = 250 * time.Millisecond

func newControllerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "controller",
		Short: "place waypoints for the robot",
		Long: `controller runs the controller side of the link. Its own pose comes from
the local AR tracker over UDP. With --mission the waypoints of a yaml file
are sent once both devices are synced, and the command exits when the
mission is completed. With --drive this side runs the waypoint loop itself
and steers a robot started with --bridge.`,
		RunE: runController,
	}
	f := cmd.Flags()
	f.String("mission", "", "yaml file with waypoints to send")
	f.String("pose-listen", "127.0.0.1:9871", "UDP address receiving tracker poses")
	f.String("map", "", "map blob file to send to the robot once connected")
	f.Bool("reset", false, "reset the robot's mission before sending waypoints")
	f.Bool("drive", false, "run the waypoint loop here and send motor commands to a bridged robot")
	return cmd
}

func runController(cmd *cobra.Command, _ []string) error {
	missionPath, _ := cmd.Flags().GetString("mission")
	poseListen, _ := cmd.Flags().GetString("pose-listen")
	mapPath, _ := cmd.Flags().GetString("map")
	reset, _ := cmd.Flags().GetBool("reset")
	drive, _ := cmd.Flags().GetBool("drive")

	var mission *models.Mission
	if missionPath != "" {
		m, err := models.LoadMission(missionPath)
		if err != nil {
			return err
		}
		mission = m
	}
	var mapBlob []byte
	if mapPath != "" {
		blob, err := os.ReadFile(mapPath)
		if err != nil {
			return fmt.Errorf("read map: %w", err)
		}
		mapBlob = blob
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	logger := log.Named("controller")

	store := services.NewPoseStore(services.WithPoseMaxAge(cfg.Robot.PoseMaxAge))
	feed, err := services.ListenPoseFeed(poseListen, store)
	if err != nil {
		return err
	}
	defer feed.Close()
	go func() {
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("pose feed stopped", zap.Error(err))
		}
	}()

	id := peerID("controller")
	ch, err := openChannel(ctx, id, transport.RoleAnswerer)
	if err != nil {
		return err
	}
	defer ch.Close()

	completed := make(chan struct{}, 1)
	connected := make(chan struct{}, 1)
	opts := []services.SessionOption{
		services.OnMissionCompleted(func() {
			logger.Info("mission completed")
			select {
			case completed <- struct{}{}:
			default:
			}
		}),
		services.OnPeers(func(peers []string) {
			if len(peers) > 0 {
				select {
				case connected <- struct{}{}:
				default:
				}
			}
		}),
	}
	if drive {
		opts = append(opts,
			services.WithLocalRobot(services.NewRemoteMotor(ch),
				services.WithDriveParams(cfg.Control.Drive),
				services.WithControlInterval(config.Interval(cfg.Control.Rate)),
			),
			services.OnControllerFault(func(err error) {
				logger.Error("driving halted", zap.Error(err))
			}),
		)
	}
	session := services.NewSession(ch, store, sessionOptions(opts...)...)

	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()
	logger.Info("controller session started",
		zap.String("peer_id", id), zap.String("transport", cfg.Transport.Kind), zap.String("room", cfg.Transport.Room),
		zap.Bool("drive", drive))

	if mapBlob != nil {
		go sendMapWhenConnected(ctx, session, mapBlob, connected, logger)
	}
	if mission != nil {
		if err := runMission(ctx, session, mission, reset, completed, logger); err != nil {
			cancel()
			<-done
			return err
		}
		cancel()
	}
	return <-done
}

func sendMapWhenConnected(ctx context.Context, s *services.Session, blob []byte, connected <-chan struct{},
	logger *zap.Logger,
) {
	for {
		err := s.SendMap(blob)
		if err == nil {
			return
		}
		logger.Debug("map not sent yet", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-connected:
		case <-time.After(time.Second):
		}
	}
}

// runMission waits for sync, sends the mission and waits for the robot to
// finish it.
func runMission(ctx context.Context, s *services.Session, m *models.Mission, reset bool,
	completed <-chan struct{}, logger *zap.Logger,
) error {
	logger.Info("waiting for sync", zap.String("mission", m.Name), zap.Int("waypoints", len(m.Waypoints)))
	ticker := time.NewTicker(syncPoll)
	defer ticker.Stop()
	for !s.Synced() {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}

	if reset {
		if err := s.ResetMission(); err != nil {
			return fmt.Errorf("reset mission: %w", err)
		}
	}
	for _, mw := range m.Waypoints {
		if _, err := s.AddWaypoint(mw.Waypoint()); err != nil {
			return fmt.Errorf("place waypoint %d: %w", mw.MarkerID, err)
		}
	}
	sent, err := s.SendPendingWaypoints(ctx)
	if err != nil {
		return fmt.Errorf("send mission (%d sent): %w", sent, err)
	}
	logger.Info("mission sent", zap.Int("waypoints", sent))

	select {
	case <-ctx.Done():
	case <-completed:
		for _, w := range s.Markers() {
			logger.Info("marker", zap.Int("marker_id", w.MarkerID), zap.Bool("completed", w.Completed))
		}
	}
	return nil
}
