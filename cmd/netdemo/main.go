// netdemo is a small demo peer: it ticks a Connection with one
// reliable message channel over a real UDP socket, sending numbered
// text messages (and optionally a file as a block) to a peer running
// the same command.
package main

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	protocol "github.com/opd-ai/go-protocol"
	"github.com/opd-ai/go-protocol/log"
)

const textMessageType uint16 = 1

// textMessage is the demo's application message: a short string.
type textMessage struct {
	protocol.BaseMessage
	Text string
}

func newTextMessage() *textMessage {
	return &textMessage{BaseMessage: protocol.NewBaseMessage(textMessageType)}
}

func (m *textMessage) Serialize(s *protocol.Stream) {
	const maxTextBytes = 250

	length := int32(len(m.Text))
	s.SerializeInteger(&length, 0, maxTextBytes)
	buf := make([]byte, length)
	if s.IsWriting() {
		copy(buf, m.Text)
	}
	s.SerializeBytes(buf, int(length))
	if s.IsReading() {
		m.Text = string(buf)
	}
	s.Check(0x1234ABCD)
}

func main() {
	root := &cobra.Command{
		Use:   "netdemo",
		Short: "exchange reliable messages with a peer over UDP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	flags := root.Flags()
	flags.String("listen", "0.0.0.0:5000", "local UDP address to bind")
	flags.String("peer", "", "peer to talk to, as host:port (name or IP)")
	flags.Int("packet-size", 1024, "max packet size in bytes")
	flags.Float64("tick", 60, "ticks per second")
	flags.Int("send-rate", 10, "messages to send per second (0 to only listen)")
	flags.String("block-file", "", "file to send once as a reliable block")
	flags.Bool("verbose", false, "enable debug logging")

	viper.SetEnvPrefix("netdemo")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	logger := log.Default()
	if viper.GetBool("verbose") {
		logger.SetLevel(logrus.DebugLevel)
	}

	listenAddr, err := net.ResolveUDPAddr("udp", viper.GetString("listen"))
	if err != nil {
		return err
	}
	socket, err := net.ListenUDP("udp", listenAddr)
	if err != nil {
		return err
	}
	defer socket.Close()

	peerName := viper.GetString("peer")
	if peerName == "" {
		return fmt.Errorf("--peer is required")
	}
	peer, err := resolvePeer(peerName, logger)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"listen": socket.LocalAddr(),
		"peer":   peer.String(),
	}).Info("netdemo starting")

	messageFactory := protocol.NewMessageFactory()
	messageFactory.Register(textMessageType, func() protocol.Message { return newTextMessage() })

	channelConfig := protocol.DefaultReliableMessageChannelConfig()
	channelConfig.MessageFactory = messageFactory
	channelConfig.Logger = logger

	structure := protocol.NewChannelStructure()
	if err := structure.AddChannel("reliable", func() protocol.Channel {
		return protocol.NewReliableMessageChannel(channelConfig)
	}); err != nil {
		return err
	}
	structure.Lock()

	connection, err := protocol.NewConnection(protocol.ConnectionConfig{
		MaxPacketSize:    viper.GetInt("packet-size"),
		ChannelStructure: structure,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	channel := connection.Channel(0).(*protocol.ReliableMessageChannel)

	if path := viper.GetString("block-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := channel.SendBlock(data); err != nil {
			return err
		}
		logger.WithField("bytes", len(data)).Info("queued block")
	}

	tickRate := viper.GetFloat64("tick")
	sendRate := viper.GetInt("send-rate")
	dt := 1.0 / tickRate
	ticker := time.NewTicker(time.Duration(float64(time.Second) / tickRate))
	defer ticker.Stop()

	readBuffer := make([]byte, viper.GetInt("packet-size"))
	timeBase := protocol.TimeBase{DeltaTime: dt}
	sendAccumulator := 0.0
	sent := 0

	for range ticker.C {
		timeBase.Time += dt
		connection.Update(timeBase)

		if sendRate > 0 {
			sendAccumulator += dt * float64(sendRate)
			for sendAccumulator >= 1 {
				sendAccumulator--
				message := newTextMessage()
				message.Text = fmt.Sprintf("hello %d", sent)
				if err := channel.SendMessage(message); err != nil {
					logger.WithError(err).Warn("send window full, backing off")
					sendAccumulator = 0
					break
				}
				sent++
			}
		}

		packet, err := connection.WritePacket()
		if err != nil {
			return err
		}
		if _, err := socket.WriteToUDP(packet, peer.UDPAddr()); err != nil {
			logger.WithError(err).Warn("udp write failed")
		}

		socket.SetReadDeadline(time.Now().Add(time.Millisecond))
		for {
			n, _, err := socket.ReadFromUDP(readBuffer)
			if err != nil {
				break
			}
			if err := connection.ReadPacket(readBuffer[:n]); err != nil {
				logger.WithError(err).Debug("packet rejected")
			}
		}

		for {
			message := channel.ReceiveMessage()
			if message == nil {
				break
			}
			switch typed := message.(type) {
			case *textMessage:
				logger.WithField("id", typed.Id()).Info(typed.Text)
			case *protocol.BlockMessage:
				logger.WithFields(logrus.Fields{
					"id":    typed.Id(),
					"bytes": len(typed.Block),
				}).Info("received block")
			}
		}
	}
	return nil
}

// resolvePeer runs the async resolver to completion for a single name.
func resolvePeer(name string, logger *logrus.Logger) (protocol.Address, error) {
	if address, err := protocol.ParseAddress(name); err == nil {
		return address, nil
	}

	resolver := protocol.NewDNSResolver(false, logger)
	resolver.Resolve(name)
	timeBase := protocol.TimeBase{DeltaTime: 0.01}
	for i := 0; i < 1000; i++ {
		resolver.Update(timeBase)
		entry := resolver.GetEntry(name)
		if entry.Status == protocol.ResolveSucceeded {
			return entry.Result.Addresses[0], nil
		}
		if entry.Status == protocol.ResolveFailed {
			return protocol.Address{}, fmt.Errorf("cannot resolve %q", name)
		}
		time.Sleep(10 * time.Millisecond)
		timeBase.Time += 0.01
	}
	return protocol.Address{}, fmt.Errorf("timed out resolving %q", name)
}
