/*
Package midisynth renders MIDI-style note events into a continuous stereo
audio stream.

Concept

Two paths touch the synthesizer. The control plane is any goroutine that
plays notes, changes programs and loads instrument banks. The render path is
the callback the audio output stream invokes on its own thread every time the
hardware needs more samples:

    control plane - Initialize, LoadSoundfont, PlayNote, StopNote, ...
    render path   - RenderFunc called by the Stream

Both paths meet in session.Session, which serializes them with a single lock.
When no instrument bank is loaded the render path produces silence.

Components

This package only defines the contracts between the session and its
collaborators:

    Engine - synthesis engine with one loaded instrument bank;
    Loader - creates engines from named banks;
    Stream - opened audio output stream;
    Opener - opens streams bound to a RenderFunc.

Implementations live in subpackages: soundfont provides a SoundFont engine,
portaudio and oto provide hardware streams, wav renders into a file and mock
provides test doubles. Package bridge owns a session for foreign callers.

Format

Output is always interleaved float32 stereo. The sample rate is fixed when the
stream is opened and is not changed while it runs.
*/
package midisynth
